package combat

import (
	"slices"
	"time"

	"github.com/samber/lo"
)

// Status identifies the combat lifecycle label.
type Status string

const (
	// StatusInactive is reported for sessions with no combat.
	StatusInactive  Status = "inactive"
	StatusPreparing Status = "preparing"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
)

// Position is a grid cell.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Participant is one combatant.
type Participant struct {
	// ID identifies the participant inside the combat and in the turn order.
	ID string `json:"id"`
	// CharacterID references the character fighting.
	CharacterID string `json:"character_id"`
	// Initiative orders turns, highest first.
	Initiative int `json:"initiative"`
	// Conditions lists active condition tags such as "prone".
	Conditions []string `json:"conditions,omitempty"`
	// Position is the participant's grid cell, when the table uses a grid.
	Position *Position `json:"position,omitempty"`
	// JoinedAt records when the participant was added.
	JoinedAt time.Time `json:"joined_at"`
}

// Combat is the combat of one session.
type Combat struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`
	// Round starts at 0 and becomes 1 when the first participant joins.
	Round int `json:"round"`
	// CurrentTurn is the participant id whose turn it is, empty for none.
	CurrentTurn  string        `json:"current_turn,omitempty"`
	Participants []Participant `json:"participants"`
	// InitiativeOrder lists participant ids in turn order.
	InitiativeOrder []string `json:"initiative_order"`
	// Pending lists character ids declared at start that have not joined yet.
	Pending   []string   `json:"pending,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Participant returns the participant with the given participant id.
func (c *Combat) Participant(participantID string) (Participant, bool) {
	return lo.Find(c.Participants, func(p Participant) bool { return p.ID == participantID })
}

// ParticipantByCharacter returns the participant fighting as characterID.
func (c *Combat) ParticipantByCharacter(characterID string) (Participant, bool) {
	return lo.Find(c.Participants, func(p Participant) bool { return p.CharacterID == characterID })
}

// Clone returns a deep copy of c.
func (c *Combat) Clone() *Combat {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = lo.Map(c.Participants, func(p Participant, _ int) Participant {
		p.Conditions = slices.Clone(p.Conditions)
		if p.Position != nil {
			pos := *p.Position
			p.Position = &pos
		}
		return p
	})
	out.InitiativeOrder = slices.Clone(c.InitiativeOrder)
	out.Pending = slices.Clone(c.Pending)
	if c.EndedAt != nil {
		at := *c.EndedAt
		out.EndedAt = &at
	}
	return &out
}

func (c *Combat) ended() bool {
	return c.Status == StatusEnded
}

func (c *Combat) indexOfCharacter(characterID string) int {
	_, idx, _ := lo.FindIndexOf(c.Participants, func(p Participant) bool { return p.CharacterID == characterID })
	return idx
}

// sortOrder rebuilds InitiativeOrder from Participants, initiative
// descending, keeping join order on ties.
func (c *Combat) sortOrder() {
	ordered := slices.Clone(c.Participants)
	slices.SortStableFunc(ordered, func(a, b Participant) int {
		return b.Initiative - a.Initiative
	})
	c.InitiativeOrder = lo.Map(ordered, func(p Participant, _ int) string { return p.ID })
}

// join appends p, reorders the turn order and activates a preparing combat
// on its first participant.
func (c *Combat) join(p Participant) {
	c.Participants = append(c.Participants, p)
	c.Pending = lo.Without(c.Pending, p.CharacterID)
	c.sortOrder()
	if c.Status == StatusPreparing && len(c.Participants) == 1 {
		c.Status = StatusActive
		c.Round = 1
		c.CurrentTurn = p.ID
	}
}

// advance moves the turn to the next participant in order and reports
// whether the order wrapped, which starts a new round.
func (c *Combat) advance() bool {
	if len(c.InitiativeOrder) == 0 {
		c.CurrentTurn = ""
		return false
	}
	idx := slices.Index(c.InitiativeOrder, c.CurrentTurn)
	if idx < 0 {
		c.CurrentTurn = c.InitiativeOrder[0]
		return false
	}
	next := (idx + 1) % len(c.InitiativeOrder)
	c.CurrentTurn = c.InitiativeOrder[next]
	if next == 0 {
		c.Round++
		return true
	}
	return false
}

// leave removes the participant at idx. When it held the turn, the turn
// passes to whoever followed it; passing the end of the order starts a new
// round. It reports whether a round was completed.
func (c *Combat) leave(idx int, now time.Time) bool {
	removed := c.Participants[idx]
	c.Participants = slices.Delete(c.Participants, idx, idx+1)

	heldTurn := c.CurrentTurn == removed.ID
	orderIdx := slices.Index(c.InitiativeOrder, removed.ID)
	c.sortOrder()

	wrapped := false
	if heldTurn {
		switch {
		case len(c.InitiativeOrder) == 0:
			c.CurrentTurn = ""
		case orderIdx >= len(c.InitiativeOrder):
			c.CurrentTurn = c.InitiativeOrder[0]
			c.Round++
			wrapped = true
		default:
			c.CurrentTurn = c.InitiativeOrder[orderIdx]
		}
	}

	if len(c.Participants) == 0 {
		c.end(now)
	}
	return wrapped
}

func (c *Combat) end(now time.Time) {
	c.Status = StatusEnded
	c.CurrentTurn = ""
	at := now
	c.EndedAt = &at
}
