package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

// Persister flushes the state store to durable storage on a timer that runs
// independently of the poll cycle. Save failures are logged and counted but
// never interrupt the monitor; in-memory state remains authoritative until
// the next attempt.
type Persister struct {
	store    *StateStore
	repo     scoreboard.StateRepository
	interval time.Duration

	cancel context.CancelCauseFunc
	done   chan struct{}
	once   sync.Once

	metrics MonitorMetrics
	tracer  trace.Tracer
	logger  *logger.Logger
}

// NewPersister wires a persister that saves every interval.
func NewPersister(
	store *StateStore,
	repo scoreboard.StateRepository,
	interval time.Duration,
	metrics MonitorMetrics,
	tracer trace.Tracer,
	logger *logger.Logger,
) *Persister {
	return &Persister{
		store:    store,
		repo:     repo,
		interval: interval,
		done:     make(chan struct{}),
		metrics:  metrics,
		tracer:   tracer,
		logger:   logger.With("component", "persister"),
	}
}

// Start launches the periodic save goroutine.
func (p *Persister) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancelCause(ctx)

	go func() {
		defer close(p.done)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := p.save(ctx); err != nil {
					p.logger.Error(ctx, "Periodic state save failed", "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the periodic timer, waits for the goroutine to exit, and
// performs one final synchronous save so a clean shutdown never loses state.
// The final save uses a fresh context because the loop's context is already
// canceled by the time shutdown reaches here.
func (p *Persister) Stop(ctx context.Context) error {
	var saveErr error
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel(errors.New("persister stopped"))
			<-p.done
		}
		if err := p.save(ctx); err != nil {
			p.logger.Error(ctx, "Final state save failed", "err", err)
			saveErr = err
			return
		}
		p.logger.Info(ctx, "Final state save completed")
	})
	return saveErr
}

func (p *Persister) save(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "persister.monitor.save")
	defer span.End()

	state := p.store.SnapshotForSave()
	span.SetAttributes(
		attribute.Int("posted_event_ids", len(state.PostedEventIDs)),
		attribute.Int("previous_snapshots", len(state.PreviousSnapshots)),
		attribute.Int("active_keys", len(state.ActiveKeys)),
	)

	if err := p.repo.Save(ctx, state); err != nil {
		p.metrics.IncSaveErrors(ctx)
		span.SetStatus(codes.Error, "state save failed")
		span.RecordError(err)
		return fmt.Errorf("saving state: %w", err)
	}

	span.SetStatus(codes.Ok, "state saved")
	return nil
}
