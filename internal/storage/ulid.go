// Package storage provides the time-ordered id generator behind
// outbox.NewID, kept as its own package (rather than folded into
// internal/outbox) so every caller mints ids from the same monotonic
// entropy source. Definition Store rows carry no generated id.
package storage

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new time-ordered ULID string, monotonic within the
// same millisecond across concurrent callers.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
