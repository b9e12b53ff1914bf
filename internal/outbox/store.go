package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"workflowcore/internal/db"
)

// Store is the Outbox Scheduler's persistence contract: enqueue a new row,
// claim a batch of due rows for dispatch (the SKIP-LOCKED-safe operation
// spec §4.4 names), mark a claimed row sent, and reschedule/dead-letter one
// that failed to dispatch.
type Store interface {
	Enqueue(ctx context.Context, row *Row) error
	ClaimBatch(ctx context.Context, now time.Time, limit int) ([]*Row, error)
	MarkSent(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, delayedUntil time.Time, lastErr string) error
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// FindByCorrelation looks up a parked RUN_WORKFLOW row by the parent
	// instance's RunID.
	FindByCorrelation(ctx context.Context, parentRunID string) (*Row, error)
	Delete(ctx context.Context, id string) error
}

// sqlStore implements Store over database/sql. Claiming uses
// `SELECT ... FOR UPDATE SKIP LOCKED` when dialect == "postgres" (true
// multi-worker-safe claiming via jackc/pgx/v5); sqlite/mysql dialects fall
// back to an UPDATE...RETURNING-free claim-then-mark-sent transaction that
// ClaimBatch itself serializes with db.SQLiteWriteMutex, since neither backend offers a
// portable skip-locked primitive through database/sql.
type sqlStore struct {
	db      *sql.DB
	dialect string // postgres|sqlite|mysql
}

// NewSQLStore builds a Store backed by an existing *sql.DB connection pool,
// dialect-aware for the claim query's locking clause.
func NewSQLStore(db *sql.DB, dialect string) Store {
	return &sqlStore{db: db, dialect: dialect}
}

func (s *sqlStore) Enqueue(ctx context.Context, row *Row) error {
	status := row.Status
	if status == "" {
		status = StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox (id, kind, message, status, delayed_until, attempt_count, last_error, created_at, correlation_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, string(row.Kind), row.Message, string(status), row.DelayedUntil, row.AttemptCount, row.LastError, row.CreatedAt, nullable(row.CorrelationRunID))
	return err
}

func (s *sqlStore) FindByCorrelation(ctx context.Context, parentRunID string) (*Row, error) {
	row := &Row{Status: StatusWaitingChild}
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, message, delayed_until, attempt_count, last_error, created_at
		FROM outbox WHERE correlation_run_id = ? AND status = ?`,
		parentRunID, string(StatusWaitingChild)).Scan(&row.ID, &kind, &row.Message, &row.DelayedUntil, &row.AttemptCount, &row.LastError, &row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("find parked row for correlation %s: %w", parentRunID, err)
	}
	row.Kind = Kind(kind)
	row.CorrelationRunID = parentRunID
	return row, nil
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *sqlStore) ClaimBatch(ctx context.Context, now time.Time, limit int) ([]*Row, error) {
	if s.dialect != "postgres" {
		// Neither sqlite nor mysql give us a portable SKIP LOCKED through
		// database/sql, so the claim-then-mark-sent transaction below is
		// serialized against every other ClaimBatch call instead, via
		// internal/db.SQLiteWriteMutex.
		db.SQLiteWriteMutex.Lock()
		defer db.SQLiteWriteMutex.Unlock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	selectQuery := `SELECT id, kind, message, delayed_until, attempt_count, last_error, created_at
		FROM outbox WHERE status = ? AND delayed_until <= ? ORDER BY delayed_until ASC LIMIT ?`
	if s.dialect == "postgres" {
		selectQuery += " FOR UPDATE SKIP LOCKED"
	}

	rows, err := tx.QueryContext(ctx, selectQuery, string(StatusPending), now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch query: %w", err)
	}
	var claimed []*Row
	for rows.Next() {
		r := &Row{Kind: KindWait, Status: StatusPending}
		var kind string
		if err := rows.Scan(&r.ID, &kind, &r.Message, &r.DelayedUntil, &r.AttemptCount, &r.LastError, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		r.Kind = Kind(kind)
		claimed = append(claimed, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, len(claimed))
	args := make([]any, 0, len(claimed)+1)
	args = append(args, string(StatusSent))
	for i, r := range claimed {
		ids[i] = "?"
		args = append(args, r.ID)
	}
	updateQuery := fmt.Sprintf("UPDATE outbox SET status = ?, sent_at = CURRENT_TIMESTAMP WHERE id IN (%s)", strings.Join(ids, ","))
	if _, err := tx.ExecContext(ctx, updateQuery, args...); err != nil {
		return nil, fmt.Errorf("mark claimed sent: %w", err)
	}

	return claimed, tx.Commit()
}

func (s *sqlStore) MarkSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET status = ?, sent_at = CURRENT_TIMESTAMP WHERE id = ?`, string(StatusSent), id)
	return err
}

func (s *sqlStore) Reschedule(ctx context.Context, id string, delayedUntil time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, delayed_until = ?, attempt_count = attempt_count + 1, last_error = ?
		WHERE id = ?`, string(StatusPending), delayedUntil, lastErr, id)
	return err
}

func (s *sqlStore) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE status = ? AND sent_at < ?`, string(StatusSent), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
