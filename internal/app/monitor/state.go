package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

// StateStore owns the monitor's mutable tracking state: which matches are
// currently active, which event identities have already been delivered, the
// previous-snapshot cache the diff engine compares against, and the one-shot
// set of active keys restored from a previous process lifetime.
//
// All access goes through a single instance; nothing here is package-level.
// The store is safe for concurrent use.
type StateStore struct {
	repo scoreboard.StateRepository

	mu sync.RWMutex
	// activeMatches holds composite keys of matches currently in play.
	activeMatches map[string]struct{}
	// postedEventIDs holds every delivered event identity, keyed so that all
	// of a match's identities share the matchID + "-" prefix.
	postedEventIDs map[string]struct{}
	// prevSnapshots is the diff baseline, keyed by composite key.
	prevSnapshots map[string]scoreboard.Snapshot
	// recoveredActiveKeys holds active keys loaded by Hydrate. Each is
	// consumed at most once, by the catch-up path of the first cycle that
	// observes the match.
	recoveredActiveKeys map[string]struct{}

	// ready is closed by Hydrate; WaitReady blocks on it so no cycle runs
	// against unrestored state.
	ready     chan struct{}
	readyOnce sync.Once

	tracer trace.Tracer
	logger *logger.Logger
}

// NewStateStore returns an empty store backed by the given repository. The
// store is not ready until Hydrate has run.
func NewStateStore(repo scoreboard.StateRepository, tracer trace.Tracer, logger *logger.Logger) *StateStore {
	return &StateStore{
		repo:                repo,
		activeMatches:       make(map[string]struct{}),
		postedEventIDs:      make(map[string]struct{}),
		prevSnapshots:       make(map[string]scoreboard.Snapshot),
		recoveredActiveKeys: make(map[string]struct{}),
		ready:               make(chan struct{}),
		tracer:              tracer,
		logger:              logger.With("component", "state_store"),
	}
}

// Hydrate restores persisted state from the repository and releases the
// readiness gate. Active keys found in the persisted state are marked both
// active and recovered; the recovered flag is what lets the first cycle after
// a restart re-mark lifecycle identities without re-announcing them.
//
// Hydrate releases the gate even on a load error so the process can start
// from empty state rather than deadlock; the error is returned for the caller
// to decide whether that is acceptable.
func (s *StateStore) Hydrate(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "state_store.monitor.hydrate")
	defer span.End()
	defer s.readyOnce.Do(func() { close(s.ready) })

	state, err := s.repo.Load(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "state load failed")
		span.RecordError(err)
		return fmt.Errorf("loading persisted state: %w", err)
	}

	s.mu.Lock()
	for _, id := range state.PostedEventIDs {
		s.postedEventIDs[id] = struct{}{}
	}
	for key, snap := range state.PreviousSnapshots {
		s.prevSnapshots[key] = snap
	}
	for _, key := range state.ActiveKeys {
		s.activeMatches[key] = struct{}{}
		s.recoveredActiveKeys[key] = struct{}{}
	}
	s.mu.Unlock()

	span.AddEvent("state_hydrated", trace.WithAttributes(
		attribute.Int("posted_event_ids", len(state.PostedEventIDs)),
		attribute.Int("previous_snapshots", len(state.PreviousSnapshots)),
		attribute.Int("active_keys", len(state.ActiveKeys)),
	))
	span.SetStatus(codes.Ok, "state hydrated")
	s.logger.Info(ctx, "State hydrated",
		"posted_event_ids", len(state.PostedEventIDs),
		"previous_snapshots", len(state.PreviousSnapshots),
		"active_keys", len(state.ActiveKeys),
	)
	return nil
}

// WaitReady blocks until Hydrate has completed or the context is canceled.
func (s *StateStore) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsMatchActive reports whether the composite key is currently tracked as in
// play.
func (s *StateStore) IsMatchActive(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.activeMatches[key]
	return ok
}

// AddActiveMatch marks the composite key as in play.
func (s *StateStore) AddActiveMatch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeMatches[key] = struct{}{}
}

// HasActiveMatches reports whether any match in the partition is tracked as
// in play. The scheduler falls back to this when the partition's fetch
// fails, so a transient provider error keeps the live polling cadence.
func (s *StateStore) HasActiveMatches(partition string) bool {
	prefix := partition + scoreboard.KeySeparator

	s.mu.RLock()
	defer s.mu.RUnlock()
	for key := range s.activeMatches {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// HasUpcomingMatches reports whether the previous-snapshot cache holds any
// not-yet-started match for the partition. Like HasActiveMatches, it serves
// the scheduler when the current cycle's fetch failed.
func (s *StateStore) HasUpcomingMatches(partition string) bool {
	prefix := partition + scoreboard.KeySeparator

	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, snap := range s.prevSnapshots {
		if snap.Status == scoreboard.StatusPre && strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// ClearMatchState removes all traces of a finished match: its active flag,
// its previous snapshot, its recovered flag, and every posted event identity
// carrying the matchID + "-" prefix. Identities for other matches are
// untouched.
func (s *StateStore) ClearMatchState(partition, matchID string) {
	key := scoreboard.CompositeKey(partition, matchID)
	prefix := matchID + "-"

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeMatches, key)
	delete(s.prevSnapshots, key)
	delete(s.recoveredActiveKeys, key)
	for id := range s.postedEventIDs {
		if strings.HasPrefix(id, prefix) {
			delete(s.postedEventIDs, id)
		}
	}
}

// IsEventPosted reports whether the event identity has already been
// delivered.
func (s *StateStore) IsEventPosted(eventID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.postedEventIDs[eventID]
	return ok
}

// MarkEventPosted records a delivered event identity. An empty identity is a
// programming error, not a data condition: every identity derivation prefixes
// the match id, so an empty string here means a caller bypassed derivation.
func (s *StateStore) MarkEventPosted(eventID string) {
	if eventID == "" {
		panic("monitor: MarkEventPosted called with empty event id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postedEventIDs[eventID] = struct{}{}
}

// GetPreviousSnapshot returns the last recorded snapshot for the composite
// key, and whether one exists.
func (s *StateStore) GetPreviousSnapshot(key string) (scoreboard.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.prevSnapshots[key]
	return snap, ok
}

// MergePreviousSnapshots folds one cycle's entries into the baseline. The
// merge is additive; keys absent from entries keep their prior value, so a
// failed partition fetch never erases its matches' baselines.
func (s *StateStore) MergePreviousSnapshots(entries map[string]scoreboard.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, snap := range entries {
		s.prevSnapshots[key] = snap
	}
}

// ConsumeRecoveredActiveKey reports whether the composite key was restored as
// active by Hydrate, and clears the flag. The flag fires at most once per
// key per process lifetime.
func (s *StateStore) ConsumeRecoveredActiveKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recoveredActiveKeys[key]; !ok {
		return false
	}
	delete(s.recoveredActiveKeys, key)
	return true
}

// SnapshotForSave copies the persistable triple out under the read lock. The
// returned state shares nothing with the store's internals.
func (s *StateStore) SnapshotForSave() *scoreboard.PersistedState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &scoreboard.PersistedState{
		PostedEventIDs:    make([]string, 0, len(s.postedEventIDs)),
		PreviousSnapshots: make(map[string]scoreboard.Snapshot, len(s.prevSnapshots)),
		ActiveKeys:        make([]string, 0, len(s.activeMatches)),
	}
	for id := range s.postedEventIDs {
		state.PostedEventIDs = append(state.PostedEventIDs, id)
	}
	for key, snap := range s.prevSnapshots {
		state.PreviousSnapshots[key] = snap
	}
	for key := range s.activeMatches {
		state.ActiveKeys = append(state.ActiveKeys, key)
	}
	return state
}

// ActiveMatchCount returns the number of matches currently tracked as in
// play.
func (s *StateStore) ActiveMatchCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activeMatches)
}
