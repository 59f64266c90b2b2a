package eventdispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/matchpulse/matchpulse/internal/domain/events"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	return New(noop.NewTracerProvider().Tracer("test"), logger.Noop())
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	var got events.EventEnvelope
	d.RegisterHandler(ctx, "MatchStarted", func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
		got = evt
		return nil
	})

	evt := events.EventEnvelope{Type: "MatchStarted", Key: "bra.1:m1"}
	require.NoError(t, d.Dispatch(ctx, evt, func(error) {}))
	require.Equal(t, "bra.1:m1", got.Key)
}

func TestDispatchUnknownTypeFails(t *testing.T) {
	d := newTestDispatcher(t)

	err := d.Dispatch(context.Background(), events.EventEnvelope{Type: "Unknown"}, func(error) {})

	var notFound *HandlerNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, events.EventType("Unknown"), notFound.EventType)
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	boom := errors.New("boom")
	d.RegisterHandler(ctx, "ScoreChanged", func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
		return boom
	})

	require.ErrorIs(t, d.Dispatch(ctx, events.EventEnvelope{Type: "ScoreChanged"}, func(error) {}), boom)
}

func TestRegisterHandlerReplacesPrevious(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	var first, second bool
	d.RegisterHandler(ctx, "MatchEnded", func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
		first = true
		return nil
	})
	d.RegisterHandler(ctx, "MatchEnded", func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
		second = true
		return nil
	})

	require.NoError(t, d.Dispatch(ctx, events.EventEnvelope{Type: "MatchEnded"}, func(error) {}))
	require.False(t, first)
	require.True(t, second)
}
