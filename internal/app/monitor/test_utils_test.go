package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/matchpulse/matchpulse/internal/domain/events"
	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
)

// mockTimeProvider allows controlled time manipulation in tests.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTimeProvider(t time.Time) *mockTimeProvider { return &mockTimeProvider{now: t} }

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

type mockStateRepository struct{ mock.Mock }

func (m *mockStateRepository) Load(ctx context.Context) (*scoreboard.PersistedState, error) {
	args := m.Called(ctx)
	if state := args.Get(0); state != nil {
		return state.(*scoreboard.PersistedState), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStateRepository) Save(ctx context.Context, state *scoreboard.PersistedState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

type mockSource struct{ mock.Mock }

func (m *mockSource) FetchScoreboard(ctx context.Context, partition string) ([]scoreboard.RawMatch, error) {
	args := m.Called(ctx, partition)
	if raws := args.Get(0); raws != nil {
		return raws.([]scoreboard.RawMatch), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSource) FetchHappenings(ctx context.Context, partition, matchID string) ([]scoreboard.RawHappening, error) {
	args := m.Called(ctx, partition, matchID)
	if hs := args.Get(0); hs != nil {
		return hs.([]scoreboard.RawHappening), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockHighlightSource struct{ mock.Mock }

func (m *mockHighlightSource) FetchHighlights(ctx context.Context, matchID string) ([]scoreboard.Highlight, error) {
	args := m.Called(ctx, matchID)
	if hs := args.Get(0); hs != nil {
		return hs.([]scoreboard.Highlight), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDeliverer struct{ mock.Mock }

func (m *mockDeliverer) Deliver(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// noopMetrics satisfies MonitorMetrics without recording anything.
type noopMetrics struct{}

func (noopMetrics) ObserveCycleDuration(context.Context, time.Duration) {}
func (noopMetrics) IncPartitionErrors(context.Context, string)          {}
func (noopMetrics) SetActiveMatches(context.Context, int)               {}
func (noopMetrics) IncActionsEmitted(context.Context, string)           {}
func (noopMetrics) IncDeliveries(context.Context)                       {}
func (noopMetrics) IncDeliveryErrors(context.Context)                   {}
func (noopMetrics) IncDedupeHits(context.Context)                       {}
func (noopMetrics) IncSaveErrors(context.Context)                       {}
