// File: internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore persists session snapshots in Postgres for deployments where
// multiple hosts share the session pool. The upsert keeps writes atomic
// from a reader's point of view.
type PGStore struct {
	pool   DBPool
	logger *zap.Logger
}

// NewPGStore verifies connectivity and returns the store.
func NewPGStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PGStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}
	return &PGStore{pool: pool, logger: logger.Named("pgstore")}, nil
}

// Load fetches the snapshot for the session ID.
func (p *PGStore) Load(ctx context.Context, id string) (*SessionState, error) {
	const query = `SELECT state FROM session_snapshots WHERE id = $1;`

	var raw []byte
	err := p.pool.QueryRow(ctx, query, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: querying session %q: %w", id, err)
	}

	var state SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("store: decoding session %q: %w", id, err)
	}
	return &state, nil
}

// Save upserts the snapshot for the session ID.
func (p *PGStore) Save(ctx context.Context, id string, state *SessionState) error {
	state.SavedAt = time.Now().UTC()

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: encoding session %q: %w", id, err)
	}

	const query = `
        INSERT INTO session_snapshots (id, state, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET
            state = EXCLUDED.state,
            updated_at = EXCLUDED.updated_at;
    `
	if _, err := p.pool.Exec(ctx, query, id, raw, state.SavedAt); err != nil {
		return fmt.Errorf("store: upserting session %q: %w", id, err)
	}

	p.logger.Debug("Session snapshot upserted", zap.String("session_id", id))
	return nil
}
