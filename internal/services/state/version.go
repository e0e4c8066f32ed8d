package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Version is an opaque tag identifying one revision of a session's state.
// The empty Version means no state has been written yet.
type Version string

// Update is one requested path write.
type Update struct {
	Path  string `json:"path"`
	Value Value  `json:"value"`
}

// AppliedUpdate records a write together with the value it replaced.
type AppliedUpdate struct {
	Path     string `json:"path"`
	Value    Value  `json:"value"`
	Previous Value  `json:"previous"`
}

// ChangeRecord is one committed batch in the retained change log.
type ChangeRecord struct {
	Version   Version         `json:"version"`
	Parent    Version         `json:"parent"`
	Timestamp time.Time       `json:"timestamp"`
	Updates   []AppliedUpdate `json:"updates"`
}

// Paths lists the paths written by the record.
func (r ChangeRecord) Paths() []string {
	out := make([]string, len(r.Updates))
	for i, u := range r.Updates {
		out[i] = u.Path
	}
	return out
}

type versionInput struct {
	Parent    Version         `json:"parent"`
	State     Tree            `json:"state"`
	Updates   []AppliedUpdate `json:"updates"`
	Timestamp string          `json:"timestamp"`
}

// computeVersion hashes the canonical JSON of the resulting state, the
// applied updates, the commit time and the parent version. Equal inputs give
// equal tags; chaining the parent keeps a repeated identical write from
// reproducing an older tag.
func computeVersion(parent Version, tree Tree, updates []AppliedUpdate, at time.Time) (Version, error) {
	raw, err := json.Marshal(versionInput{
		Parent:    parent,
		State:     tree,
		Updates:   updates,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("encode version input: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize version input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return Version(hex.EncodeToString(sum[:])), nil
}
