// Package memory provides an in-memory state repository for tests and
// development runs.
package memory

import (
	"context"
	"sync"

	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
)

var _ scoreboard.StateRepository = (*stateStore)(nil)

// stateStore keeps the persisted triple in process memory. Copies go in and
// out so callers cannot alias the stored state.
type stateStore struct {
	mu    sync.Mutex
	state *scoreboard.PersistedState
}

// NewStateStore creates an empty in-memory state repository.
func NewStateStore() *stateStore {
	return &stateStore{}
}

func (s *stateStore) Load(ctx context.Context) (*scoreboard.PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return &scoreboard.PersistedState{
			PostedEventIDs:    []string{},
			PreviousSnapshots: make(map[string]scoreboard.Snapshot),
			ActiveKeys:        []string{},
		}, nil
	}
	return copyState(s.state), nil
}

func (s *stateStore) Save(ctx context.Context, state *scoreboard.PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = copyState(state)
	return nil
}

func copyState(in *scoreboard.PersistedState) *scoreboard.PersistedState {
	out := &scoreboard.PersistedState{
		PostedEventIDs:    make([]string, len(in.PostedEventIDs)),
		PreviousSnapshots: make(map[string]scoreboard.Snapshot, len(in.PreviousSnapshots)),
		ActiveKeys:        make([]string, len(in.ActiveKeys)),
	}
	copy(out.PostedEventIDs, in.PostedEventIDs)
	copy(out.ActiveKeys, in.ActiveKeys)
	for k, v := range in.PreviousSnapshots {
		out.PreviousSnapshots[k] = v
	}
	return out
}
