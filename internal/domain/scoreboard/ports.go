package scoreboard

import "context"

// ScoreboardFetcher retrieves the current raw scoreboard for one partition.
// Implementations own their transport concerns (timeouts, retries, circuit
// breaking) and return an empty slice rather than an error when the provider
// simply has no data for the partition.
type ScoreboardFetcher interface {
	FetchScoreboard(ctx context.Context, partition string) ([]RawMatch, error)
}

// HappeningFetcher retrieves the raw child events recorded so far for one
// live match. "No events yet" is an empty slice, not an error.
type HappeningFetcher interface {
	FetchHappenings(ctx context.Context, partition, matchID string) ([]RawHappening, error)
}

// Source bundles both fetch capabilities of one upstream provider.
type Source interface {
	ScoreboardFetcher
	HappeningFetcher
}

// Highlight is one post-match video clip reference.
type Highlight struct {
	Title string
	URL   string
}

// HighlightSource retrieves the highlight clips published for a finished
// match. "None published yet" is an empty slice, not an error.
type HighlightSource interface {
	FetchHighlights(ctx context.Context, matchID string) ([]Highlight, error)
}

// Deliverer posts rendered text to the destination feed and returns the
// delivered status id. The deliverer itself does not dedupe; exactly-once
// semantics come entirely from the caller checking and marking posted-event
// identities around this call.
type Deliverer interface {
	Deliver(ctx context.Context, text string) (string, error)
}

// PersistedState is the durable triple the state store saves and restores.
// The encoding is the repository implementation's concern; the triple must
// round-trip by value, including unicode identifiers.
type PersistedState struct {
	PostedEventIDs    []string            `json:"posted_event_ids"`
	PreviousSnapshots map[string]Snapshot `json:"previous_snapshots"`
	ActiveKeys        []string            `json:"active_keys"`
}

// StateRepository persists the monitor's recovery state. Save must be atomic:
// a process killed mid-save leaves the previous complete state loadable,
// never a torn write. Load returns an empty (non-nil) state when nothing has
// been persisted yet.
type StateRepository interface {
	Load(ctx context.Context) (*PersistedState, error)
	Save(ctx context.Context, state *PersistedState) error
}
