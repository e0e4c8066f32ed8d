package session

import (
	"time"

	"github.com/samber/lo"
)

// Status identifies the session lifecycle label.
type Status string

const (
	StatusCreated Status = "created"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
)

// Player is a character's membership in a session.
type Player struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"character_id"`
	UserID      string    `json:"user_id"`
	Connected   bool      `json:"connected"`
	LastSeen    time.Time `json:"last_seen"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Session is one live play instance.
type Session struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	Status     Status `json:"status"`
	// Players keeps join order.
	Players    []Player       `json:"players"`
	MaxPlayers int            `json:"max_players"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
}

// Summary is the read-only projection returned by GetSessionStatus.
type Summary struct {
	ID          string
	CampaignID  string
	Name        string
	Status      Status
	PlayerCount int
	MaxPlayers  int
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
	EndedAt     *time.Time
}

// Player returns the membership record of characterID.
func (s *Session) Player(characterID string) (Player, bool) {
	return lo.Find(s.Players, func(p Player) bool { return p.CharacterID == characterID })
}

// Summary projects s.
func (s *Session) Summary() Summary {
	return Summary{
		ID:          s.ID,
		CampaignID:  s.CampaignID,
		Name:        s.Name,
		Status:      s.Status,
		PlayerCount: len(s.Players),
		MaxPlayers:  s.MaxPlayers,
		Metadata:    s.Metadata,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		EndedAt:     s.EndedAt,
	}
}

func (s *Session) ended() bool {
	return s.Status == StatusEnded
}

func (s *Session) full() bool {
	return len(s.Players) >= s.MaxPlayers
}

func (s *Session) indexOfCharacter(characterID string) int {
	_, idx, _ := lo.FindIndexOf(s.Players, func(p Player) bool { return p.CharacterID == characterID })
	return idx
}

func (s *Session) end(now time.Time) {
	s.Status = StatusEnded
	at := now
	s.EndedAt = &at
}
