// Package outbox implements the durable Outbox Scheduler of spec §4.4/§6.4:
// a poll-based, SKIP-LOCKED-safe batch dispatcher for WAIT and RETRY
// resumptions. Grounded on the teacher's db.SQLiteWriteMutex write-
// serialization discipline (internal/db/sqlite_lock.go) generalized to a
// real `SELECT ... FOR UPDATE SKIP LOCKED` claim query on Postgres
// (github.com/jackc/pgx/v5) and a mutex-serialized polling claim on
// SQLite/MySQL backends that lack it.
package outbox

import (
	"time"

	"workflowcore/internal/storage"
)

// Kind distinguishes why a row is scheduled: a `wait` task's timer, or a
// try/catch retry's backoff delay.
type Kind string

const (
	KindWait        Kind = "WAIT"
	KindRetry       Kind = "RETRY"
	KindRunWorkflow Kind = "RUN_WORKFLOW"
)

// Status is the row's dispatch lifecycle.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	// StatusWaitingChild marks a parked RUN_WORKFLOW row holding a parent
	// instance's envelope until its dispatched sub-workflow completes;
	// ClaimBatch's normal due-time poll never selects it.
	StatusWaitingChild Status = "WAITING_CHILD"
)

// Row is spec §3's OutboxRow: a time-ordered ULID id, the opaque resume
// Message (an encoded message.Envelope), and enough bookkeeping for the
// Scheduler's retry-the-retry and cleanup passes.
type Row struct {
	ID               string
	Kind             Kind
	Message          []byte
	Status           Status
	DelayedUntil     time.Time
	AttemptCount     int
	LastError        string
	CreatedAt        time.Time
	SentAt           *time.Time
	// CorrelationRunID is set only on a parked RUN_WORKFLOW row: the
	// parent WorkflowInstance's RunID, so resumeParent can find it again
	// by the child's CorrelationParent back-pointer once the child
	// dispatched by run.workflow completes.
	CorrelationRunID string
}

// NewID returns a new time-ordered ULID for a Row, backed by
// internal/storage's shared monotonic entropy source (the teacher's
// internal/storage/ulid.go generateULID, exported and reused here instead
// of reimplemented).
func NewID() string { return storage.NewULID() }
