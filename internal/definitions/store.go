// Package definitions is the Definition Store of spec §3/§6.5: a
// content-addressed, DB-backed (name, version) -> definition text cache
// in front of the compiled node.Graph plan cache, adapting the teacher's
// internal/workflows/runtime/adapter.go WorkflowServiceAdapter.planCache
// pattern (ExecutionPlan keyed by runID) into a graph cache keyed by
// (name, version) — one compiled Graph serves every run of that version,
// since node.Graph is immutable once built.
package definitions

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"workflowcore/internal/node"
)

// Row is spec §3's DefinitionRow.
type Row struct {
	Name      string
	Version   string
	Text      []byte
	Digest    string
	CreatedAt time.Time
}

// Repository persists definition text.
type Repository interface {
	Put(ctx context.Context, row *Row) error
	Get(ctx context.Context, name, version string) (*Row, error)
}

type sqlRepository struct{ db *sql.DB }

func NewSQLRepository(db *sql.DB) Repository { return &sqlRepository{db: db} }

func (r *sqlRepository) Put(ctx context.Context, row *Row) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO definitions (name, version, text, digest, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name, version) DO NOTHING`,
		row.Name, row.Version, row.Text, row.Digest, row.CreatedAt)
	return err
}

func (r *sqlRepository) Get(ctx context.Context, name, version string) (*Row, error) {
	row := &Row{}
	err := r.db.QueryRowContext(ctx, `
		SELECT name, version, text, digest, created_at FROM definitions WHERE name = ? AND version = ?`,
		name, version).Scan(&row.Name, &row.Version, &row.Text, &row.Digest, &row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get definition %s/%s: %w", name, version, err)
	}
	return row, nil
}

// Digest content-addresses definition text, per spec §6.5's requirement
// that re-registering identical text is a no-op.
func Digest(text []byte) string {
	sum := sha256.Sum256(text)
	return hex.EncodeToString(sum[:])
}

// Store wraps a Repository with an in-process compiled-Graph cache, the
// way WorkflowServiceAdapter wrapped repos with planCache.
type Store struct {
	repo Repository

	mu    sync.RWMutex
	plans map[string]*node.Graph // keyed by "name@version"
}

func NewStore(repo Repository) *Store {
	return &Store{repo: repo, plans: make(map[string]*node.Graph)}
}

// Register parses and persists a new definition version, returning its
// compiled Graph. Registering identical text for an existing version is a
// no-op (content-addressed via Digest) but still returns the compiled Graph.
func (s *Store) Register(ctx context.Context, name, version string, text []byte) (*node.Graph, error) {
	def, err := node.ParseDefinition(text)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Put(ctx, &Row{Name: name, Version: version, Text: text, Digest: Digest(text), CreatedAt: time.Now()}); err != nil {
		return nil, err
	}
	graph := node.Compile(name, version, def)
	s.mu.Lock()
	s.plans[key(name, version)] = graph
	s.mu.Unlock()
	return graph, nil
}

// Graph returns the compiled Graph for (name, version), compiling and
// caching it on first access if not already resident.
func (s *Store) Graph(ctx context.Context, name, version string) (*node.Graph, error) {
	k := key(name, version)
	s.mu.RLock()
	g, ok := s.plans[k]
	s.mu.RUnlock()
	if ok {
		return g, nil
	}

	row, err := s.repo.Get(ctx, name, version)
	if err != nil {
		return nil, err
	}
	def, err := node.ParseDefinition(row.Text)
	if err != nil {
		return nil, err
	}
	graph := node.Compile(name, version, def)

	s.mu.Lock()
	s.plans[k] = graph
	s.mu.Unlock()
	return graph, nil
}

// Evict drops a version's compiled Graph from the in-process cache,
// without affecting the persisted row — used after a superseding version
// is registered, so stale graphs don't linger in memory indefinitely.
func (s *Store) Evict(name, version string) {
	s.mu.Lock()
	delete(s.plans, key(name, version))
	s.mu.Unlock()
}

func key(name, version string) string { return name + "@" + version }
