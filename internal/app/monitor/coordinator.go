package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

type timeProvider interface {
	Now() time.Time
}

// realTimeProvider is a real implementation of the timeProvider interface.
type realTimeProvider struct{}

// Now returns the current time.
func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// partitionResult is everything one partition's fetch-and-diff produced.
// Workers only fill these in; all state mutation happens afterwards on the
// coordinating goroutine.
type partitionResult struct {
	partition   string
	err         error
	diff        scoreboard.DiffResult
	liveSnaps   []scoreboard.Snapshot
	hasLive     bool
	hasUpcoming bool
	startTimes  []time.Time
}

// Coordinator drives the poll loop: fetch every partition, diff, dispatch,
// merge, then sleep for however long the schedule warrants. At most one cycle
// runs at a time; the next is armed only after the current one completes.
type Coordinator struct {
	partitions []string
	source     scoreboard.Source
	store      *StateStore
	processor  *Processor
	tunables   Tunables

	metrics      MonitorMetrics
	timeProvider timeProvider
	tracer       trace.Tracer
	logger       *logger.Logger
}

// NewCoordinator wires a coordinator over the given partitions.
func NewCoordinator(
	partitions []string,
	source scoreboard.Source,
	store *StateStore,
	processor *Processor,
	tunables Tunables,
	metrics MonitorMetrics,
	tracer trace.Tracer,
	logger *logger.Logger,
) *Coordinator {
	return &Coordinator{
		partitions:   partitions,
		source:       source,
		store:        store,
		processor:    processor,
		tunables:     tunables,
		metrics:      metrics,
		timeProvider: realTimeProvider{},
		tracer:       tracer,
		logger:       logger.With("component", "coordinator"),
	}
}

// Poll executes one complete cycle over all partitions and returns the delay
// until the next cycle should run. Partition failures are contained: the
// failing partition keeps its previous snapshots untouched and the rest of
// the cycle proceeds.
func (c *Coordinator) Poll(ctx context.Context) time.Duration {
	cycleID := uuid.New().String()
	ctx, span := c.tracer.Start(ctx, "coordinator.monitor.poll",
		trace.WithAttributes(
			attribute.String("cycle_id", cycleID),
			attribute.Int("partitions", len(c.partitions)),
		))
	defer span.End()

	started := c.timeProvider.Now()

	// Fetch and diff concurrently. Diff only reads the previous-snapshot
	// cache; every write to shared state happens below, on this goroutine.
	results := make([]partitionResult, len(c.partitions))
	g, gctx := errgroup.WithContext(ctx)
	for i, partition := range c.partitions {
		g.Go(func() error {
			results[i] = c.fetchAndDiff(gctx, partition)
			return nil
		})
	}
	_ = g.Wait()

	var (
		hasLive     bool
		hasUpcoming bool
		startTimes  []time.Time
	)
	for _, res := range results {
		if res.err != nil {
			c.metrics.IncPartitionErrors(ctx, res.partition)
			c.logger.Error(ctx, "Partition cycle failed, previous snapshots retained",
				"partition", res.partition,
				"err", res.err,
			)
			span.RecordError(res.err)

			// Schedule from the retained state so a transient fetch
			// failure cannot push a live partition into hibernation.
			hasLive = hasLive || c.store.HasActiveMatches(res.partition)
			hasUpcoming = hasUpcoming || c.store.HasUpcomingMatches(res.partition)
			continue
		}

		hasLive = hasLive || res.hasLive
		hasUpcoming = hasUpcoming || res.hasUpcoming
		startTimes = append(startTimes, res.startTimes...)

		c.store.MergePreviousSnapshots(res.diff.Entries)

		for _, action := range res.diff.Actions {
			if err := c.processor.HandleAction(ctx, action); err != nil {
				c.logger.Error(ctx, "Action handling failed",
					"partition", res.partition,
					"action", action.Type,
					"match_id", action.Snapshot.ID,
					"err", err,
				)
			}
		}

		// Finished matches still flagged active carry an end announcement
		// that failed on its transition cycle; retry until it lands.
		for _, snap := range res.diff.Entries {
			if snap.Status != scoreboard.StatusPost {
				continue
			}
			if err := c.processor.ProcessFinishedMatch(ctx, res.partition, snap); err != nil {
				c.logger.Error(ctx, "Finished match processing failed",
					"partition", res.partition,
					"match_id", snap.ID,
					"err", err,
				)
			}
		}

		for _, snap := range res.liveSnaps {
			if err := c.processor.ProcessLiveMatch(ctx, res.partition, snap); err != nil {
				c.logger.Error(ctx, "Live match processing failed",
					"partition", res.partition,
					"match_id", snap.ID,
					"err", err,
				)
			}
		}
	}

	now := c.timeProvider.Now()
	delay := NextPollDelay(hasLive, hasUpcoming, startTimes, now, c.tunables)

	c.metrics.SetActiveMatches(ctx, c.store.ActiveMatchCount())
	c.metrics.ObserveCycleDuration(ctx, now.Sub(started))

	span.AddEvent("cycle_completed", trace.WithAttributes(
		attribute.Bool("has_live", hasLive),
		attribute.Bool("has_upcoming", hasUpcoming),
		attribute.String("next_delay", delay.String()),
	))
	span.SetStatus(codes.Ok, "cycle completed")
	c.logger.Debug(ctx, "Cycle completed",
		"cycle_id", cycleID,
		"has_live", hasLive,
		"has_upcoming", hasUpcoming,
		"next_delay", delay,
	)
	return delay
}

// fetchAndDiff runs the read-only half of one partition's cycle.
func (c *Coordinator) fetchAndDiff(ctx context.Context, partition string) partitionResult {
	res := partitionResult{partition: partition}

	ctx, span := c.tracer.Start(ctx, "coordinator.monitor.fetch_and_diff",
		trace.WithAttributes(attribute.String("partition", partition)))
	defer span.End()

	raws, err := c.source.FetchScoreboard(ctx, partition)
	if err != nil {
		span.SetStatus(codes.Error, "scoreboard fetch failed")
		span.RecordError(err)
		res.err = err
		return res
	}

	snaps := scoreboard.SnapshotMap(raws)
	res.diff = scoreboard.ComputeDiff(partition, snaps, c.store.GetPreviousSnapshot)

	for _, raw := range raws {
		snap, ok := snaps[raw.ID]
		if !ok {
			continue
		}
		switch snap.Status {
		case scoreboard.StatusIn:
			res.hasLive = true
			res.liveSnaps = append(res.liveSnaps, snap)
		case scoreboard.StatusPre:
			res.hasUpcoming = true
			if !raw.StartTime.IsZero() {
				res.startTimes = append(res.startTimes, raw.StartTime)
			}
		}
	}

	span.AddEvent("partition_diffed", trace.WithAttributes(
		attribute.Int("matches", len(snaps)),
		attribute.Int("actions", len(res.diff.Actions)),
	))
	span.SetStatus(codes.Ok, "partition diffed")
	return res
}

// Run blocks on the store's readiness gate, then drives Poll in a loop,
// re-arming a one-shot timer after each cycle. It returns when the context
// is canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.store.WaitReady(ctx); err != nil {
		return err
	}
	c.logger.Info(ctx, "Poll loop starting", "partitions", c.partitions)

	for {
		delay := c.Poll(ctx)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info(ctx, "Poll loop stopped")
			return ctx.Err()
		}
	}
}
