package scoreboard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testPartition = "bra.1"

func snap(id string, home, away int, status Status, clock string) Snapshot {
	return Snapshot{ID: id, Score: Score{Home: home, Away: away}, Status: status, DisplayClock: clock}
}

func previousOf(m map[string]Snapshot) PreviousSnapshotFunc {
	return func(key string) (Snapshot, bool) {
		s, ok := m[key]
		return s, ok
	}
}

func TestComputeDiffMatchStart(t *testing.T) {
	newMap := map[string]Snapshot{"m1": snap("m1", 0, 0, StatusIn, "1'")}
	previous := previousOf(map[string]Snapshot{"bra.1:m1": snap("m1", 0, 0, StatusPre, "-")})

	result := ComputeDiff(testPartition, newMap, previous)

	require.Len(t, result.Actions, 1)
	require.Equal(t, ActionMatchStart, result.Actions[0].Type)
	require.Equal(t, testPartition, result.Actions[0].Partition)
	require.Equal(t, StatusIn, result.Actions[0].Snapshot.Status)
	require.Len(t, result.Entries, 1)
	require.Contains(t, result.Entries, "bra.1:m1")
}

func TestComputeDiffMatchEnd(t *testing.T) {
	newMap := map[string]Snapshot{"m1": snap("m1", 2, 1, StatusPost, "FT")}
	previous := previousOf(map[string]Snapshot{"bra.1:m1": snap("m1", 2, 1, StatusIn, "90'")})

	result := ComputeDiff(testPartition, newMap, previous)

	require.Len(t, result.Actions, 1)
	require.Equal(t, ActionMatchEnd, result.Actions[0].Type)
	require.Equal(t, StatusPost, result.Actions[0].Snapshot.Status)
}

func TestComputeDiffScoreChanged(t *testing.T) {
	newMap := map[string]Snapshot{"m1": snap("m1", 1, 0, StatusIn, "45'")}
	previous := previousOf(map[string]Snapshot{"bra.1:m1": snap("m1", 0, 0, StatusIn, "44'")})

	result := ComputeDiff(testPartition, newMap, previous)

	require.Len(t, result.Actions, 1)
	require.Equal(t, ActionScoreChanged, result.Actions[0].Type)
	require.Equal(t, Score{Home: 1, Away: 0}, result.Actions[0].Snapshot.Score)
}

func TestComputeDiffNoChangeEmitsNothing(t *testing.T) {
	newMap := map[string]Snapshot{"m1": snap("m1", 0, 0, StatusIn, "10'")}
	previous := previousOf(map[string]Snapshot{"bra.1:m1": snap("m1", 0, 0, StatusIn, "9'")})

	result := ComputeDiff(testPartition, newMap, previous)

	require.Empty(t, result.Actions)
	require.Len(t, result.Entries, 1)
}

func TestComputeDiffIgnoresScoreOutsideLivePlay(t *testing.T) {
	for _, status := range []Status{StatusPre, StatusPost} {
		newMap := map[string]Snapshot{"m1": snap("m1", 1, 0, status, "-")}
		previous := previousOf(map[string]Snapshot{"bra.1:m1": snap("m1", 0, 0, status, "-")})

		result := ComputeDiff(testPartition, newMap, previous)

		require.Empty(t, result.Actions, "status %s must not emit score_changed", status)
	}
}

// A pre -> post jump means the in phase was missed entirely (downtime or a
// very short run). The diff engine cannot know whether the missed phase was
// already handled in a previous process lifetime, so it emits nothing and
// leaves catch-up to the recovery path.
func TestComputeDiffSkippedLivePhaseEmitsNothing(t *testing.T) {
	newMap := map[string]Snapshot{"m1": snap("m1", 3, 1, StatusPost, "FT")}
	previous := previousOf(map[string]Snapshot{"bra.1:m1": snap("m1", 0, 0, StatusPre, "-")})

	result := ComputeDiff(testPartition, newMap, previous)

	require.Empty(t, result.Actions)
	require.Len(t, result.Entries, 1)
}

func TestComputeDiffNewMatchAlreadyLive(t *testing.T) {
	newMap := map[string]Snapshot{"m1": snap("m1", 1, 0, StatusIn, "20'")}

	result := ComputeDiff(testPartition, newMap, previousOf(nil))

	require.Len(t, result.Actions, 1)
	require.Equal(t, ActionScoreChanged, result.Actions[0].Type, "joining a live match catches up via score_changed, never match_start")
}

func TestComputeDiffEntriesCoverEveryMatch(t *testing.T) {
	newMap := map[string]Snapshot{
		"m1": snap("m1", 0, 0, StatusPre, "-"),
		"m2": snap("m2", 0, 0, StatusIn, "5'"),
		"m3": snap("m3", 2, 2, StatusPost, "FT"),
	}

	result := ComputeDiff(testPartition, newMap, previousOf(nil))

	require.Len(t, result.Entries, len(newMap))
	for id := range newMap {
		require.Contains(t, result.Entries, CompositeKey(testPartition, id))
	}
}
