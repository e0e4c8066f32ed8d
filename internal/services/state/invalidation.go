package state

import (
	"context"
	"io"
)

// Invalidator carries commit notices between service instances sharing a
// store. Instances evict cached state whose version differs from a notice.
type Invalidator interface {
	Publish(ctx context.Context, sessionID, version string) error
	Subscribe(ctx context.Context, handle func(sessionID, version string)) (io.Closer, error)
}
