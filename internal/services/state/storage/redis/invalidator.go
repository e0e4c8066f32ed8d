package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultChannel carries state commit notices between instances.
const DefaultChannel = "livesession:state:commits"

type notice struct {
	SessionID string `json:"session_id"`
	Version   string `json:"version"`
}

// Invalidator broadcasts committed versions over Redis pub/sub so peer
// instances can drop stale cache entries.
type Invalidator struct {
	client  goredis.UniversalClient
	channel string
}

// NewInvalidator publishes and subscribes on channel, or DefaultChannel
// when channel is blank.
func NewInvalidator(client goredis.UniversalClient, channel string) (*Invalidator, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	return &Invalidator{client: client, channel: channel}, nil
}

// Publish announces that sessionID now stores version.
func (i *Invalidator) Publish(ctx context.Context, sessionID, version string) error {
	payload, err := json.Marshal(notice{SessionID: sessionID, Version: version})
	if err != nil {
		return fmt.Errorf("encode commit notice: %w", err)
	}
	if err := i.client.Publish(ctx, i.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish commit notice: %w", err)
	}
	return nil
}

// Subscribe calls handle for every notice until the returned closer is
// closed. It returns once the subscription is confirmed by the server.
func (i *Invalidator) Subscribe(ctx context.Context, handle func(sessionID, version string)) (io.Closer, error) {
	pubsub := i.client.Subscribe(ctx, i.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", i.channel, err)
	}

	sub := &subscription{pubsub: pubsub, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			var n notice
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil || n.SessionID == "" {
				continue
			}
			handle(n.SessionID, n.Version)
		}
	}()
	return sub, nil
}

type subscription struct {
	pubsub *goredis.PubSub
	done   chan struct{}
	once   sync.Once
	err    error
}

// Close ends the subscription and waits for the delivery loop to exit.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}
