package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
	"github.com/matchpulse/matchpulse/pkg/common"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

type processorSuite struct {
	store     *StateStore
	source    *mockSource
	deliverer *mockDeliverer
	publisher *mockPublisher
	processor *Processor
}

func newProcessorSuite(t *testing.T, categories []scoreboard.HappeningCategory) *processorSuite {
	t.Helper()

	s := &processorSuite{
		store:     newTestStore(t, new(mockStateRepository)),
		source:    new(mockSource),
		deliverer: new(mockDeliverer),
		publisher: new(mockPublisher),
	}
	s.processor = NewProcessor(
		s.store,
		s.source,
		s.deliverer,
		s.publisher,
		common.NewRateLimiter(1000, 1000),
		nil,
		map[string]PartitionInfo{
			"bra.1": {Name: "Brasileirão", Hashtags: []string{"#Brasileirao"}},
		},
		categories,
		noopMetrics{},
		noop.NewTracerProvider().Tracer("test"),
		logger.Noop(),
	)
	return s
}

// beginMatch records a match whose kickoff announcement already landed, the
// normal state of a tracked live match.
func (s *processorSuite) beginMatch(partition, matchID string) {
	s.store.AddActiveMatch(scoreboard.CompositeKey(partition, matchID))
	s.store.MarkEventPosted(scoreboard.MatchStartEventID(matchID))
}

func liveSnap(id string, home, away int) scoreboard.Snapshot {
	return scoreboard.Snapshot{
		ID:           id,
		Score:        scoreboard.Score{Home: home, Away: away},
		Status:       scoreboard.StatusIn,
		DisplayClock: "12'",
	}
}

func TestHandleMatchStart(t *testing.T) {
	s := newProcessorSuite(t, nil)
	s.deliverer.On("Deliver", mock.Anything, mock.Anything).Return("status-1", nil).Once()
	s.publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

	action := scoreboard.Action{Type: scoreboard.ActionMatchStart, Snapshot: liveSnap("m1", 0, 0), Partition: "bra.1"}
	require.NoError(t, s.processor.HandleAction(context.Background(), action))

	require.True(t, s.store.IsMatchActive("bra.1:m1"))
	require.True(t, s.store.IsEventPosted("m1-match-start"))

	// The same start never delivers twice.
	require.NoError(t, s.processor.HandleAction(context.Background(), action))
	s.deliverer.AssertNumberOfCalls(t, "Deliver", 1)
}

func TestHandleMatchStartDeliveryFailureLeavesUnmarked(t *testing.T) {
	s := newProcessorSuite(t, nil)
	s.deliverer.On("Deliver", mock.Anything, mock.Anything).Return("", errors.New("503")).Once()

	action := scoreboard.Action{Type: scoreboard.ActionMatchStart, Snapshot: liveSnap("m1", 0, 0), Partition: "bra.1"}
	require.Error(t, s.processor.HandleAction(context.Background(), action))

	// The identity stays unmarked so the next cycle retries the delivery.
	require.False(t, s.store.IsEventPosted("m1-match-start"))
}

func TestHandleMatchEndClearsMatchState(t *testing.T) {
	s := newProcessorSuite(t, nil)
	s.store.AddActiveMatch("bra.1:m1")
	s.store.MarkEventPosted("m1-e1")
	s.deliverer.On("Deliver", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "2 x 1")
	})).Return("status-2", nil).Once()
	s.publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

	snap := liveSnap("m1", 2, 1)
	snap.Status = scoreboard.StatusPost
	action := scoreboard.Action{Type: scoreboard.ActionMatchEnd, Snapshot: snap, Partition: "bra.1"}
	require.NoError(t, s.processor.HandleAction(context.Background(), action))

	require.False(t, s.store.IsMatchActive("bra.1:m1"))
	require.False(t, s.store.IsEventPosted("m1-e1"))
	s.deliverer.AssertExpectations(t)
}

func TestHandleScoreChanged(t *testing.T) {
	s := newProcessorSuite(t, nil)
	s.deliverer.On("Deliver", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "1 x 0") && strings.Contains(text, "#Brasileirao")
	})).Return("status-3", nil).Once()
	s.publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

	action := scoreboard.Action{Type: scoreboard.ActionScoreChanged, Snapshot: liveSnap("m1", 1, 0), Partition: "bra.1"}
	require.NoError(t, s.processor.HandleAction(context.Background(), action))
	s.deliverer.AssertExpectations(t)
}

func TestProcessLiveMatchDeliversNewHappenings(t *testing.T) {
	s := newProcessorSuite(t, nil)
	s.beginMatch("bra.1", "m1")
	s.source.On("FetchHappenings", mock.Anything, "bra.1", "m1").Return([]scoreboard.RawHappening{
		{ID: "e1", Type: "Goal", Minute: "12'", PlayerName: "Neymar", TeamName: "Santos"},
		{ID: "e2", Type: "Corner", Minute: "14'"},
	}, nil)
	s.deliverer.On("Deliver", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "GOAL") && strings.Contains(text, "Neymar")
	})).Return("status-4", nil).Once()

	require.NoError(t, s.processor.ProcessLiveMatch(context.Background(), "bra.1", liveSnap("m1", 1, 0)))

	require.True(t, s.store.IsEventPosted("m1-e1"))
	// Unrecognized types are discarded, never marked.
	require.False(t, s.store.IsEventPosted("m1-e2"))
	s.deliverer.AssertExpectations(t)
}

func TestProcessLiveMatchCatchUpMarksWithoutDelivering(t *testing.T) {
	s := newProcessorSuite(t, nil)
	// Never seen transitioning: the match joins already live.
	s.source.On("FetchHappenings", mock.Anything, "bra.1", "m1").Return([]scoreboard.RawHappening{
		{ID: "e1", Type: "Goal", Minute: "3'"},
		{ID: "e2", Type: "Yellow Card", Minute: "8'"},
	}, nil)

	require.NoError(t, s.processor.ProcessLiveMatch(context.Background(), "bra.1", liveSnap("m1", 1, 0)))

	require.True(t, s.store.IsMatchActive("bra.1:m1"))
	require.True(t, s.store.IsEventPosted("m1-match-start"))
	require.True(t, s.store.IsEventPosted("m1-e1"))
	require.True(t, s.store.IsEventPosted("m1-e2"))
	s.deliverer.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestProcessLiveMatchRecoveredKeySuppressesReplay(t *testing.T) {
	repo := new(mockStateRepository)
	repo.On("Load", mock.Anything).Return(&scoreboard.PersistedState{
		ActiveKeys: []string{"bra.1:m1"},
	}, nil)

	s := newProcessorSuite(t, nil)
	s.store = newTestStore(t, repo)
	require.NoError(t, s.store.Hydrate(context.Background()))
	s.processor = NewProcessor(
		s.store, s.source, s.deliverer, s.publisher,
		common.NewRateLimiter(1000, 1000),
		nil, nil, nil, noopMetrics{},
		noop.NewTracerProvider().Tracer("test"), logger.Noop(),
	)

	s.source.On("FetchHappenings", mock.Anything, "bra.1", "m1").Return([]scoreboard.RawHappening{
		{ID: "e1", Type: "Goal", Minute: "3'"},
	}, nil)

	require.NoError(t, s.processor.ProcessLiveMatch(context.Background(), "bra.1", liveSnap("m1", 1, 0)))

	require.True(t, s.store.IsEventPosted("m1-e1"))
	s.deliverer.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestProcessLiveMatchSkipsDisabledCategories(t *testing.T) {
	s := newProcessorSuite(t, []scoreboard.HappeningCategory{scoreboard.CategoryGoal})
	s.beginMatch("bra.1", "m1")
	s.source.On("FetchHappenings", mock.Anything, "bra.1", "m1").Return([]scoreboard.RawHappening{
		{ID: "e1", Type: "Yellow Card", Minute: "8'"},
	}, nil)

	require.NoError(t, s.processor.ProcessLiveMatch(context.Background(), "bra.1", liveSnap("m1", 0, 0)))

	require.False(t, s.store.IsEventPosted("m1-e1"))
	s.deliverer.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestProcessLiveMatchFailedDeliveryDoesNotBlockOthers(t *testing.T) {
	s := newProcessorSuite(t, nil)
	s.beginMatch("bra.1", "m1")
	s.source.On("FetchHappenings", mock.Anything, "bra.1", "m1").Return([]scoreboard.RawHappening{
		{ID: "e1", Type: "Goal", Minute: "3'"},
		{ID: "e2", Type: "Red Card", Minute: "9'"},
	}, nil)
	s.deliverer.On("Deliver", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "GOAL")
	})).Return("", errors.New("timeout")).Once()
	s.deliverer.On("Deliver", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Red card")
	})).Return("status-5", nil).Once()

	require.NoError(t, s.processor.ProcessLiveMatch(context.Background(), "bra.1", liveSnap("m1", 1, 0)))

	require.False(t, s.store.IsEventPosted("m1-e1"))
	require.True(t, s.store.IsEventPosted("m1-e2"))
}

func TestProcessLiveMatchRedeliversFailedStartAnnouncement(t *testing.T) {
	s := newProcessorSuite(t, nil)
	s.deliverer.On("Deliver", mock.Anything, mock.Anything).Return("", errors.New("503")).Once()

	action := scoreboard.Action{Type: scoreboard.ActionMatchStart, Snapshot: liveSnap("m1", 0, 0), Partition: "bra.1"}
	require.Error(t, s.processor.HandleAction(context.Background(), action))
	require.True(t, s.store.IsMatchActive("bra.1:m1"))
	require.False(t, s.store.IsEventPosted("m1-match-start"))

	// The next cycle sees the match live and retries the kickoff
	// announcement before processing happenings.
	s.source.On("FetchHappenings", mock.Anything, "bra.1", "m1").Return([]scoreboard.RawHappening{}, nil)
	s.deliverer.On("Deliver", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "underway")
	})).Return("status-6", nil).Once()
	s.publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, s.processor.ProcessLiveMatch(context.Background(), "bra.1", liveSnap("m1", 0, 0)))

	require.True(t, s.store.IsEventPosted("m1-match-start"))
	s.deliverer.AssertExpectations(t)
}

func TestProcessFinishedMatchRedeliversFailedEndAnnouncement(t *testing.T) {
	s := newProcessorSuite(t, nil)
	s.beginMatch("bra.1", "m1")

	snap := liveSnap("m1", 2, 1)
	snap.Status = scoreboard.StatusPost

	// The transition cycle's delivery fails, so the match stays tracked.
	s.deliverer.On("Deliver", mock.Anything, mock.Anything).Return("", errors.New("timeout")).Once()
	action := scoreboard.Action{Type: scoreboard.ActionMatchEnd, Snapshot: snap, Partition: "bra.1"}
	require.Error(t, s.processor.HandleAction(context.Background(), action))
	require.True(t, s.store.IsMatchActive("bra.1:m1"))
	require.False(t, s.store.IsEventPosted("m1-match-end"))

	// A later cycle re-derives the pending announcement from the active
	// flag and lands it.
	s.deliverer.On("Deliver", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Full time") && strings.Contains(text, "2 x 1")
	})).Return("status-7", nil).Once()
	s.publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, s.processor.ProcessFinishedMatch(context.Background(), "bra.1", snap))

	require.False(t, s.store.IsMatchActive("bra.1:m1"))
	s.deliverer.AssertExpectations(t)

	// Once cleared, further finished sightings are no-ops.
	require.NoError(t, s.processor.ProcessFinishedMatch(context.Background(), "bra.1", snap))
	s.deliverer.AssertNumberOfCalls(t, "Deliver", 2)
}

func TestProcessFinishedMatchIgnoresUntrackedMatch(t *testing.T) {
	s := newProcessorSuite(t, nil)

	snap := liveSnap("m1", 0, 3)
	snap.Status = scoreboard.StatusPost
	require.NoError(t, s.processor.ProcessFinishedMatch(context.Background(), "bra.1", snap))

	s.deliverer.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestHandleMatchEndPostsHighlights(t *testing.T) {
	s := newProcessorSuite(t, nil)
	highlights := new(mockHighlightSource)
	s.processor.highlights = highlights
	s.beginMatch("bra.1", "m1")

	highlights.On("FetchHighlights", mock.Anything, "m1").Return([]scoreboard.Highlight{
		{Title: "Opening goal", URL: "https://clips.example/1"},
		{Title: "Equalizer", URL: "https://clips.example/2"},
	}, nil)
	s.deliverer.On("Deliver", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Full time")
	})).Return("status-8", nil).Once()
	s.deliverer.On("Deliver", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Highlights") &&
			strings.Contains(text, "Opening goal: https://clips.example/1") &&
			strings.Contains(text, "Equalizer: https://clips.example/2")
	})).Return("status-9", nil).Once()
	s.publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

	snap := liveSnap("m1", 1, 1)
	snap.Status = scoreboard.StatusPost
	action := scoreboard.Action{Type: scoreboard.ActionMatchEnd, Snapshot: snap, Partition: "bra.1"}
	require.NoError(t, s.processor.HandleAction(context.Background(), action))

	require.False(t, s.store.IsMatchActive("bra.1:m1"))
	s.deliverer.AssertExpectations(t)
}

func TestHandleMatchEndSkipsEmptyHighlights(t *testing.T) {
	s := newProcessorSuite(t, nil)
	highlights := new(mockHighlightSource)
	s.processor.highlights = highlights
	s.beginMatch("bra.1", "m1")

	highlights.On("FetchHighlights", mock.Anything, "m1").Return([]scoreboard.Highlight{}, nil)
	s.deliverer.On("Deliver", mock.Anything, mock.Anything).Return("status-10", nil).Once()
	s.publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

	snap := liveSnap("m1", 0, 0)
	snap.Status = scoreboard.StatusPost
	action := scoreboard.Action{Type: scoreboard.ActionMatchEnd, Snapshot: snap, Partition: "bra.1"}
	require.NoError(t, s.processor.HandleAction(context.Background(), action))

	// Only the full-time announcement went out.
	s.deliverer.AssertNumberOfCalls(t, "Deliver", 1)
}

func TestHandleMatchEndHighlightsFetchFailureIsNonFatal(t *testing.T) {
	s := newProcessorSuite(t, nil)
	highlights := new(mockHighlightSource)
	s.processor.highlights = highlights
	s.beginMatch("bra.1", "m1")

	highlights.On("FetchHighlights", mock.Anything, "m1").Return(nil, errors.New("rate limited"))
	s.deliverer.On("Deliver", mock.Anything, mock.Anything).Return("status-11", nil).Once()
	s.publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

	snap := liveSnap("m1", 3, 2)
	snap.Status = scoreboard.StatusPost
	action := scoreboard.Action{Type: scoreboard.ActionMatchEnd, Snapshot: snap, Partition: "bra.1"}
	require.NoError(t, s.processor.HandleAction(context.Background(), action))

	// The end-of-match flow completes despite the provider error.
	require.False(t, s.store.IsMatchActive("bra.1:m1"))
	s.deliverer.AssertNumberOfCalls(t, "Deliver", 1)
}

func TestProcessLiveMatchAlreadyPostedIsSkipped(t *testing.T) {
	s := newProcessorSuite(t, nil)
	s.beginMatch("bra.1", "m1")
	s.store.MarkEventPosted("m1-e1")
	s.source.On("FetchHappenings", mock.Anything, "bra.1", "m1").Return([]scoreboard.RawHappening{
		{ID: "e1", Type: "Goal", Minute: "3'"},
	}, nil)

	require.NoError(t, s.processor.ProcessLiveMatch(context.Background(), "bra.1", liveSnap("m1", 1, 0)))
	s.deliverer.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}
