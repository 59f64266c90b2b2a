package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
	"github.com/matchpulse/matchpulse/pkg/common"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

type coordinatorSuite struct {
	store       *StateStore
	source      *mockSource
	deliverer   *mockDeliverer
	publisher   *mockPublisher
	clock       *mockTimeProvider
	coordinator *Coordinator
}

func newCoordinatorSuite(t *testing.T, partitions []string) *coordinatorSuite {
	t.Helper()

	s := &coordinatorSuite{
		store:     newTestStore(t, new(mockStateRepository)),
		source:    new(mockSource),
		deliverer: new(mockDeliverer),
		publisher: new(mockPublisher),
		clock:     newMockTimeProvider(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	tracer := noop.NewTracerProvider().Tracer("test")
	processor := NewProcessor(
		s.store, s.source, s.deliverer, s.publisher,
		common.NewRateLimiter(1000, 1000),
		nil, nil, nil, noopMetrics{}, tracer, logger.Noop(),
	)
	s.coordinator = NewCoordinator(
		partitions, s.source, s.store, processor,
		testTunables(), noopMetrics{}, tracer, logger.Noop(),
	)
	s.coordinator.timeProvider = s.clock
	return s
}

func rawMatch(id string, home, away int, state string, start time.Time) scoreboard.RawMatch {
	return scoreboard.RawMatch{
		ID:          id,
		HomeScore:   itoa(home),
		AwayScore:   itoa(away),
		StatusState: state,
		Clock:       "12'",
		StartTime:   start,
	}
}

func itoa(n int) string { return string(rune('0' + n)) }

func TestPollTracksMatchThroughItsLifecycle(t *testing.T) {
	s := newCoordinatorSuite(t, []string{"bra.1"})
	now := s.clock.Now()
	ctx := context.Background()

	// Upcoming match: no actions, sleep until the pre window opens.
	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return([]scoreboard.RawMatch{rawMatch("m1", 0, 0, "pre", now.Add(25*time.Minute))}, nil).Once()
	require.Equal(t, 10*time.Minute, s.coordinator.Poll(ctx))
	snap, ok := s.store.GetPreviousSnapshot("bra.1:m1")
	require.True(t, ok)
	require.Equal(t, scoreboard.StatusPre, snap.Status)

	// The match goes live: one start delivery, live processing, live delay.
	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return([]scoreboard.RawMatch{rawMatch("m1", 0, 0, "in", now)}, nil).Once()
	s.source.On("FetchHappenings", mock.Anything, "bra.1", "m1").Return([]scoreboard.RawHappening{}, nil)
	s.deliverer.On("Deliver", mock.Anything, mock.Anything).Return("status-1", nil)
	s.publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)

	require.Equal(t, 30*time.Second, s.coordinator.Poll(ctx))
	require.True(t, s.store.IsMatchActive("bra.1:m1"))
	require.True(t, s.store.IsEventPosted("m1-match-start"))
	startDeliveries := len(s.deliverer.Calls)

	// Unchanged live score: no further deliveries.
	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return([]scoreboard.RawMatch{rawMatch("m1", 0, 0, "in", now)}, nil).Once()
	s.coordinator.Poll(ctx)
	require.Len(t, s.deliverer.Calls, startDeliveries)

	// Full time: end delivery, state cleared, back to hibernation.
	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return([]scoreboard.RawMatch{rawMatch("m1", 2, 1, "post", now)}, nil).Once()
	require.Equal(t, testTunables().HibernationDelay, s.coordinator.Poll(ctx))
	require.False(t, s.store.IsMatchActive("bra.1:m1"))
}

func TestPollRetriesEndAnnouncementAcrossCycles(t *testing.T) {
	s := newCoordinatorSuite(t, []string{"bra.1"})
	now := s.clock.Now()
	ctx := context.Background()

	// Cycle 1: the match is seen upcoming, then goes live; the kickoff lands.
	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return([]scoreboard.RawMatch{rawMatch("m1", 0, 0, "pre", now.Add(5*time.Minute))}, nil).Once()
	s.coordinator.Poll(ctx)
	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return([]scoreboard.RawMatch{rawMatch("m1", 0, 0, "in", now)}, nil).Once()
	s.source.On("FetchHappenings", mock.Anything, "bra.1", "m1").Return([]scoreboard.RawHappening{}, nil)
	s.deliverer.On("Deliver", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "underway")
	})).Return("status-1", nil).Once()
	s.publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)
	s.coordinator.Poll(ctx)
	require.True(t, s.store.IsMatchActive("bra.1:m1"))

	// Cycle 2: full time, but every delivery attempt fails. The snapshot
	// still merges to post, so no further transition will ever fire.
	s.deliverer.On("Deliver", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Full time")
	})).Return("", errors.New("timeout")).Twice()
	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return([]scoreboard.RawMatch{rawMatch("m1", 2, 1, "post", now)}, nil).Once()
	s.coordinator.Poll(ctx)
	require.True(t, s.store.IsMatchActive("bra.1:m1"))
	require.False(t, s.store.IsEventPosted("m1-match-end"))

	// Cycle 3: same post-only scoreboard, healthy deliverer. The announcement
	// is re-derived from the active flag and finally lands.
	s.deliverer.On("Deliver", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "Full time") && strings.Contains(text, "2 x 1")
	})).Return("status-2", nil).Once()
	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return([]scoreboard.RawMatch{rawMatch("m1", 2, 1, "post", now)}, nil).Once()
	require.Equal(t, testTunables().HibernationDelay, s.coordinator.Poll(ctx))

	require.False(t, s.store.IsMatchActive("bra.1:m1"))
	s.deliverer.AssertExpectations(t)
}

func TestPollFetchFailureKeepsLivePace(t *testing.T) {
	s := newCoordinatorSuite(t, []string{"bra.1"})
	now := s.clock.Now()
	ctx := context.Background()

	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return([]scoreboard.RawMatch{rawMatch("m1", 1, 0, "in", now)}, nil).Once()
	s.source.On("FetchHappenings", mock.Anything, "bra.1", "m1").Return([]scoreboard.RawHappening{}, nil)
	s.deliverer.On("Deliver", mock.Anything, mock.Anything).Return("status-1", nil)
	s.publisher.On("PublishDomainEvent", mock.Anything, mock.Anything).Return(nil)
	require.Equal(t, testTunables().LiveDelay, s.coordinator.Poll(ctx))

	// A fetch failure mid-match must not stretch the interval to
	// hibernation while a tracked match is still in play.
	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return(nil, errors.New("upstream 500")).Once()
	require.Equal(t, testTunables().LiveDelay, s.coordinator.Poll(ctx))
}

func TestPollFetchFailureKeepsUpcomingPace(t *testing.T) {
	s := newCoordinatorSuite(t, []string{"bra.1"})
	now := s.clock.Now()
	ctx := context.Background()

	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return([]scoreboard.RawMatch{rawMatch("m1", 0, 0, "pre", now.Add(time.Hour))}, nil).Once()
	s.coordinator.Poll(ctx)

	// The retained pre snapshot keeps the partition on the alert pace; the
	// lost start time is conservative, not a reason to hibernate.
	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return(nil, errors.New("upstream 500")).Once()
	require.Equal(t, testTunables().AlertDelay, s.coordinator.Poll(ctx))
}

func TestPollPartitionFailureIsIsolated(t *testing.T) {
	s := newCoordinatorSuite(t, []string{"bra.1", "eng.1"})
	now := s.clock.Now()
	ctx := context.Background()

	// Seed a baseline for the partition that will fail.
	s.store.MergePreviousSnapshots(map[string]scoreboard.Snapshot{
		"bra.1:m1": {ID: "m1", Status: scoreboard.StatusIn, Score: scoreboard.Score{Home: 1}},
	})

	s.source.On("FetchScoreboard", mock.Anything, "bra.1").
		Return(nil, errors.New("upstream 500"))
	s.source.On("FetchScoreboard", mock.Anything, "eng.1").
		Return([]scoreboard.RawMatch{rawMatch("m9", 0, 0, "pre", now.Add(3*time.Hour))}, nil)

	delay := s.coordinator.Poll(ctx)

	// The failing partition keeps its baseline untouched; the healthy one
	// still drives scheduling.
	snap, ok := s.store.GetPreviousSnapshot("bra.1:m1")
	require.True(t, ok)
	require.Equal(t, 1, snap.Score.Home)
	_, ok = s.store.GetPreviousSnapshot("eng.1:m9")
	require.True(t, ok)
	require.Equal(t, testTunables().HibernationDelay, delay)
}

func TestPollEmptyScoreboardHibernates(t *testing.T) {
	s := newCoordinatorSuite(t, []string{"bra.1"})
	s.source.On("FetchScoreboard", mock.Anything, "bra.1").Return([]scoreboard.RawMatch{}, nil)

	require.Equal(t, testTunables().HibernationDelay, s.coordinator.Poll(context.Background()))
}

func TestRunWaitsForReadiness(t *testing.T) {
	s := newCoordinatorSuite(t, []string{"bra.1"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// The store never hydrates, so Run must give up with the context rather
	// than polling unrestored state.
	err := s.coordinator.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	s.source.AssertNotCalled(t, "FetchScoreboard", mock.Anything, mock.Anything)
}
