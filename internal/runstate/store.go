// Package runstate implements consumer.InstanceStore: the minimal durable
// bookkeeping a caller needs to poll a WorkflowInstance's status without
// replaying its message.Envelope, plus the idempotency-key ledger spec
// §4.5 requires before any side effect is applied twice. Grounded on the
// teacher's repositories.WorkflowRuns table shape
// (internal/db/repositories, since emptied along with the sqlc codegen it
// depended on) but implemented directly over database/sql rather than
// sqlc-generated queries, matching this repo's own raw-SQL Open Question
// resolution (see DESIGN.md).
package runstate

import (
	"context"
	"database/sql"
	"time"

	"workflowcore/internal/node"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) UpdateStatus(ctx context.Context, runID string, status node.Status, faultDetail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (run_id, status, fault_detail, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET status = excluded.status, fault_detail = excluded.fault_detail, updated_at = excluded.updated_at`,
		runID, string(status), faultDetail, time.Now())
	return err
}

func (s *Store) GetStatus(ctx context.Context, runID string) (node.Status, string, error) {
	var status, detail string
	err := s.db.QueryRowContext(ctx, `SELECT status, fault_detail FROM workflow_instances WHERE run_id = ?`, runID).Scan(&status, &detail)
	if err != nil {
		return "", "", err
	}
	return node.Status(status), detail, nil
}

func (s *Store) SeenIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM idempotency_keys WHERE key = ?`, key).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) RecordIdempotencyKey(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO idempotency_keys (key, created_at) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`, key, time.Now())
	return err
}
