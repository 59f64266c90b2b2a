// Package postgres persists the monitor's recovery state in PostgreSQL,
// spread over three tables that mirror the persisted triple.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
	"github.com/matchpulse/matchpulse/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{attribute.String("db.system", "postgresql")}

var _ scoreboard.StateRepository = (*stateStore)(nil)

// stateStore provides a PostgreSQL implementation of the state repository.
// Each save replaces the full persisted triple inside one transaction, which
// gives the same all-or-nothing guarantee as the file backend's rename.
type stateStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewStateStore creates a new PostgreSQL-backed state repository using the
// provided connection pool.
func NewStateStore(pool *pgxpool.Pool, tracer trace.Tracer) *stateStore {
	return &stateStore{pool: pool, tracer: tracer}
}

// Load reads the full persisted triple. Empty tables yield an empty state,
// never an error.
func (p *stateStore) Load(ctx context.Context) (*scoreboard.PersistedState, error) {
	state := &scoreboard.PersistedState{
		PostedEventIDs:    []string{},
		PreviousSnapshots: make(map[string]scoreboard.Snapshot),
		ActiveKeys:        []string{},
	}

	err := storage.ExecuteAndTrace(ctx, p.tracer, "postgres.load_state", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := p.pool.Query(ctx, `SELECT event_id FROM monitor_posted_events`)
		if err != nil {
			return fmt.Errorf("failed to query posted events: %w", err)
		}
		state.PostedEventIDs, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("failed to collect posted events: %w", err)
		}

		snapRows, err := p.pool.Query(ctx, `SELECT composite_key, snapshot FROM monitor_snapshots`)
		if err != nil {
			return fmt.Errorf("failed to query snapshots: %w", err)
		}
		defer snapRows.Close()
		for snapRows.Next() {
			var (
				key  string
				data []byte
			)
			if err := snapRows.Scan(&key, &data); err != nil {
				return fmt.Errorf("failed to scan snapshot row: %w", err)
			}
			var snap scoreboard.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("failed to decode snapshot for %s: %w", key, err)
			}
			state.PreviousSnapshots[key] = snap
		}
		if err := snapRows.Err(); err != nil {
			return fmt.Errorf("failed to read snapshot rows: %w", err)
		}

		keyRows, err := p.pool.Query(ctx, `SELECT composite_key FROM monitor_active_matches`)
		if err != nil {
			return fmt.Errorf("failed to query active matches: %w", err)
		}
		state.ActiveKeys, err = pgx.CollectRows(keyRows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("failed to collect active matches: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Save replaces the persisted triple inside one transaction.
func (p *stateStore) Save(ctx context.Context, state *scoreboard.PersistedState) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.Int("posted_event_ids", len(state.PostedEventIDs)),
		attribute.Int("previous_snapshots", len(state.PreviousSnapshots)),
		attribute.Int("active_keys", len(state.ActiveKeys)),
	)
	return storage.ExecuteAndTrace(ctx, p.tracer, "postgres.save_state", dbAttrs, func(ctx context.Context) error {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		for _, table := range []string{"monitor_posted_events", "monitor_snapshots", "monitor_active_matches"} {
			if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		batch := &pgx.Batch{}
		for _, id := range state.PostedEventIDs {
			batch.Queue(`INSERT INTO monitor_posted_events (event_id) VALUES ($1)`, id)
		}
		for key, snap := range state.PreviousSnapshots {
			data, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("failed to encode snapshot for %s: %w", key, err)
			}
			batch.Queue(`INSERT INTO monitor_snapshots (composite_key, snapshot) VALUES ($1, $2)`, key, data)
		}
		for _, key := range state.ActiveKeys {
			batch.Queue(`INSERT INTO monitor_active_matches (composite_key) VALUES ($1)`, key)
		}

		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to write state batch: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit state: %w", err)
		}
		return nil
	})
}
