package scoreboard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCategorizeHappening(t *testing.T) {
	tests := []struct {
		rawType string
		want    HappeningCategory
	}{
		{"Goal", CategoryGoal},
		{"Penalty - Scored", CategoryGoal},
		{"Own Goal", CategoryGoal},
		{"Yellow Card", CategoryYellowCard},
		{"yellowcard", CategoryYellowCard},
		{"Red Card", CategoryRedCard},
		{"Second Yellow", CategoryRedCard},
		{"Substitution", CategorySubstitution},
		{"VAR", CategoryVARReview},
		{"Video Assistant Referee", CategoryVARReview},
		{"Kickoff", CategoryKickoff},
		{"Kick Off", CategoryKickoff},
		{"Full Time", CategoryFullTime},
		{"Halftime", CategoryHalfTime},
	}

	for _, tt := range tests {
		t.Run(tt.rawType, func(t *testing.T) {
			got, ok := CategorizeHappening(tt.rawType)
			require.True(t, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCategorizeHappeningUnknown(t *testing.T) {
	for _, rawType := range []string{"", "Corner", "Offside", "Throw In"} {
		_, ok := CategorizeHappening(rawType)
		require.False(t, ok, "type %q must not categorize", rawType)
	}
}

func TestHappeningEventID(t *testing.T) {
	t.Run("provider id wins when present", func(t *testing.T) {
		h := RawHappening{ID: "evt42", Type: "Goal", Minute: "12'", ParticipantID: "p9"}
		require.Equal(t, "123-evt42", h.EventID("123"))
	})

	t.Run("synthesized identity is deterministic", func(t *testing.T) {
		h := RawHappening{Type: "Yellow Card", Minute: "45'+2", ParticipantID: "p7"}
		first := h.EventID("123")
		require.Equal(t, "123-yellow_card-45_2-p7", first)
		for i := 0; i < 3; i++ {
			require.Equal(t, first, h.EventID("123"))
		}
	})

	t.Run("identities share the match prefix used for sweeping", func(t *testing.T) {
		h := RawHappening{ID: "e1"}
		require.True(t, len(h.EventID("m77")) > len("m77-"))
		require.Equal(t, "m77-", h.EventID("m77")[:4])
		require.Equal(t, "m77-", MatchStartEventID("m77")[:4])
		require.Equal(t, "m77-", MatchEndEventID("m77")[:4])
	})
}

func TestLifecycleEventIDs(t *testing.T) {
	require.Equal(t, "123-match-start", MatchStartEventID("123"))
	require.Equal(t, "123-match-end", MatchEndEventID("123"))
}
