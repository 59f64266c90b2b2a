// Package scoreboard defines the normalized shape of one tracked match's
// observable state and the pure diff logic that turns consecutive
// observations into lifecycle actions. It has no I/O and owns no mutable
// state; the monitor application layer feeds it and persists its outputs.
package scoreboard

import (
	"strconv"
	"strings"
	"time"
)

// KeySeparator joins a partition code and a match id into a composite key.
// Partition codes come from the upstream provider's league vocabulary
// (e.g. "bra.1", "uefa.champions") and never contain a colon; config
// validation rejects any that do, so keys cannot collide.
const KeySeparator = ":"

// CompositeKey builds the map key under which a match's state is tracked.
// Raw match ids are only unique within one partition, so all caches and
// persisted maps are keyed by partition and id together.
func CompositeKey(partition, matchID string) string {
	return partition + KeySeparator + matchID
}

// Score is the ordered pair of non-negative goal counts at observation time.
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// Equal reports whether both components match by value.
func (s Score) Equal(other Score) bool {
	return s.Home == other.Home && s.Away == other.Away
}

// Snapshot is one observation of a match's state at poll time. It is the
// single source of truth for the variables tracked per match: if the upstream
// provider changes its JSON, only the fetch adapter and BuildSnapshot need
// updating.
type Snapshot struct {
	// ID is the provider's primary key for the match, always carried as an
	// opaque string to avoid precision loss on large numeric ids.
	ID string `json:"id"`

	Score Score `json:"score"`

	Status Status `json:"status"`

	// DisplayClock is a free-form human-readable progress string such as
	// "45'", "HT" or "-". It is advisory only and never used for logic.
	DisplayClock string `json:"display_clock"`
}

// RawMatch is one parent record as returned by a scoreboard fetch, before
// normalization. All fields arrive as strings; coercion rules live in
// BuildSnapshot so fetch adapters stay dumb.
type RawMatch struct {
	ID          string
	HomeScore   string
	AwayScore   string
	StatusName  string
	StatusState string
	Clock       string

	// StartTime is the scheduled kickoff when the provider reports one; the
	// zero value means unknown. Used only by the poll scheduler, never by
	// diffing.
	StartTime time.Time
}

// BuildSnapshot normalizes one raw match record. Scores default to 0 on
// missing or invalid input, the status collapses through NormalizeStatus, and
// the clock is the "-" sentinel before kickoff (a pre-match clock is
// meaningless) or a zero-value sentinel when the provider omits it mid-match.
func BuildSnapshot(raw RawMatch) Snapshot {
	status := NormalizeStatus(raw.StatusName, raw.StatusState)

	clock := "-"
	if status != StatusPre {
		clock = strings.TrimSpace(raw.Clock)
		if clock == "" {
			clock = "0'"
		}
	}

	return Snapshot{
		ID:           strings.TrimSpace(raw.ID),
		Score:        Score{Home: coerceScore(raw.HomeScore), Away: coerceScore(raw.AwayScore)},
		Status:       status,
		DisplayClock: clock,
	}
}

// SnapshotMap builds an id-keyed snapshot map from a list of raw match
// records. Records without an id are dropped: they cannot be tracked and
// must not poison the diff cache (malformed single entities never abort the
// rest of the partition).
func SnapshotMap(raws []RawMatch) map[string]Snapshot {
	m := make(map[string]Snapshot, len(raws))
	for _, raw := range raws {
		snap := BuildSnapshot(raw)
		if snap.ID == "" {
			continue
		}
		m[snap.ID] = snap
	}
	return m
}

func coerceScore(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
