package scoreboard

// ActionType identifies a lifecycle transition derived by the diff engine.
type ActionType string

const (
	// ActionMatchStart fires on an observed pre -> in transition.
	ActionMatchStart ActionType = "match_start"
	// ActionMatchEnd fires on an observed in -> post transition.
	ActionMatchEnd ActionType = "match_end"
	// ActionScoreChanged fires when a live match's score differs from the
	// previous observation, including the first observation of a match that
	// is already live.
	ActionScoreChanged ActionType = "score_changed"
)

// Action is a derived lifecycle transition signal. Actions are ephemeral:
// they exist only within one diff computation and are never stored.
type Action struct {
	Type      ActionType
	Snapshot  Snapshot
	Partition string
}

// PreviousSnapshotFunc looks up the last persisted snapshot by composite key.
// The second return value reports whether a previous snapshot exists.
type PreviousSnapshotFunc func(compositeKey string) (Snapshot, bool)

// DiffResult carries the actions derived from one diff computation together
// with the snapshot entries the caller must persist. Entries cover every
// match in the new map regardless of whether an action fired, so the next
// cycle diffs against complete prior state.
type DiffResult struct {
	Actions []Action
	Entries map[string]Snapshot
}

// ComputeDiff compares one partition's freshly built snapshot map against the
// previous-snapshot cache and derives lifecycle actions. It is pure and total
// over its input domain: no I/O, no clock, no error path.
//
// Transition rules, in order, per match:
//
//   - previous pre, new in: match_start.
//   - previous in, new post: match_end.
//   - new in and score differs from the previous score (a match with no
//     previous snapshot always differs from the implicit empty baseline):
//     score_changed. A match discovered already live therefore announces its
//     current score so callers can catch up, but never retroactively claims a
//     match_start - the start may have been announced in a previous process
//     lifetime, which only the state store's recovery signal can know.
//   - anything else, including a pre -> post jump across downtime: no action.
//     Synthesizing both a start and an end for a missed in phase would
//     double-fire after restarts; the recovered-active-key mechanism covers
//     that case instead.
func ComputeDiff(partition string, newSnapshots map[string]Snapshot, previous PreviousSnapshotFunc) DiffResult {
	result := DiffResult{
		Entries: make(map[string]Snapshot, len(newSnapshots)),
	}

	for matchID, newSnap := range newSnapshots {
		key := CompositeKey(partition, matchID)
		result.Entries[key] = newSnap

		prevSnap, seen := previous(key)
		scoreChanged := !seen || !prevSnap.Score.Equal(newSnap.Score)

		switch {
		case seen && prevSnap.Status == StatusPre && newSnap.Status == StatusIn:
			result.Actions = append(result.Actions, Action{Type: ActionMatchStart, Snapshot: newSnap, Partition: partition})

		case seen && prevSnap.Status == StatusIn && newSnap.Status == StatusPost:
			result.Actions = append(result.Actions, Action{Type: ActionMatchEnd, Snapshot: newSnap, Partition: partition})

		case newSnap.Status == StatusIn && scoreChanged:
			result.Actions = append(result.Actions, Action{Type: ActionScoreChanged, Snapshot: newSnap, Partition: partition})
		}
	}

	return result
}
