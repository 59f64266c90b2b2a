// Package file persists the monitor's recovery state as a single JSON
// document on local disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
	"github.com/matchpulse/matchpulse/internal/infra/storage"
)

var _ scoreboard.StateRepository = (*stateStore)(nil)

// stateStore implements scoreboard.StateRepository on top of a JSON file.
// Saves write to a temporary sibling and rename it over the target, so a
// process killed mid-save always leaves the previous complete document in
// place.
type stateStore struct {
	path   string
	tracer trace.Tracer
}

// NewStateStore creates a file-backed state repository at the given path.
// Parent directories are created on the first save.
func NewStateStore(path string, tracer trace.Tracer) *stateStore {
	return &stateStore{path: path, tracer: tracer}
}

// Load reads and decodes the state file. A missing file is a fresh start and
// returns an empty state rather than an error.
func (s *stateStore) Load(ctx context.Context) (*scoreboard.PersistedState, error) {
	state := emptyState()
	attrs := []attribute.KeyValue{attribute.String("path", s.path)}
	err := storage.ExecuteAndTrace(ctx, s.tracer, "file.load_state", attrs, func(ctx context.Context) error {
		data, err := os.ReadFile(s.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to read state file: %w", err)
		}

		if err := json.Unmarshal(data, state); err != nil {
			return fmt.Errorf("failed to decode state file: %w", err)
		}
		if state.PreviousSnapshots == nil {
			state.PreviousSnapshots = make(map[string]scoreboard.Snapshot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Save encodes the state and atomically replaces the target file.
func (s *stateStore) Save(ctx context.Context, state *scoreboard.PersistedState) error {
	attrs := []attribute.KeyValue{
		attribute.String("path", s.path),
		attribute.Int("posted_event_ids", len(state.PostedEventIDs)),
		attribute.Int("previous_snapshots", len(state.PreviousSnapshots)),
		attribute.Int("active_keys", len(state.ActiveKeys)),
	}
	return storage.ExecuteAndTrace(ctx, s.tracer, "file.save_state", attrs, func(ctx context.Context) error {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}

		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}

		tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
		if err != nil {
			return fmt.Errorf("failed to create temp state file: %w", err)
		}
		tmpName := tmp.Name()

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("failed to write temp state file: %w", err)
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("failed to sync temp state file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("failed to close temp state file: %w", err)
		}

		if err := os.Rename(tmpName, s.path); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("failed to replace state file: %w", err)
		}
		return nil
	})
}

func emptyState() *scoreboard.PersistedState {
	return &scoreboard.PersistedState{
		PostedEventIDs:    []string{},
		PreviousSnapshots: make(map[string]scoreboard.Snapshot),
		ActiveKeys:        []string{},
	}
}
