package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matchpulse/matchpulse/internal/domain/events"
	"github.com/matchpulse/matchpulse/internal/domain/scoreboard"
	"github.com/matchpulse/matchpulse/pkg/common"
	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

// PartitionInfo carries the display attributes of one tracked competition.
type PartitionInfo struct {
	Name     string
	Hashtags []string
}

// Processor turns diff actions and live-match happenings into deliveries and
// domain events, enforcing the exactly-once contract: an identity is checked
// before delivery and marked only after the delivery succeeds.
type Processor struct {
	store     *StateStore
	source    scoreboard.Source
	deliverer scoreboard.Deliverer
	publisher events.DomainEventPublisher
	limiter   *common.RateLimiter
	// highlights is optional; nil disables the post-match highlights
	// announcement.
	highlights scoreboard.HighlightSource

	partitions map[string]PartitionInfo
	// enabledCategories filters which happening categories are announced.
	// Nil means every recognized category.
	enabledCategories map[scoreboard.HappeningCategory]struct{}

	metrics MonitorMetrics
	tracer  trace.Tracer
	logger  *logger.Logger
}

// NewProcessor wires a processor. categories may be nil to announce all
// recognized happening categories, and highlights may be nil to skip the
// post-match highlights announcement.
func NewProcessor(
	store *StateStore,
	source scoreboard.Source,
	deliverer scoreboard.Deliverer,
	publisher events.DomainEventPublisher,
	limiter *common.RateLimiter,
	highlights scoreboard.HighlightSource,
	partitions map[string]PartitionInfo,
	categories []scoreboard.HappeningCategory,
	metrics MonitorMetrics,
	tracer trace.Tracer,
	logger *logger.Logger,
) *Processor {
	var enabled map[scoreboard.HappeningCategory]struct{}
	if len(categories) > 0 {
		enabled = make(map[scoreboard.HappeningCategory]struct{}, len(categories))
		for _, c := range categories {
			enabled[c] = struct{}{}
		}
	}
	return &Processor{
		store:             store,
		source:            source,
		deliverer:         deliverer,
		publisher:         publisher,
		limiter:           limiter,
		highlights:        highlights,
		partitions:        partitions,
		enabledCategories: enabled,
		metrics:           metrics,
		tracer:            tracer,
		logger:            logger.With("component", "processor"),
	}
}

// HandleAction dispatches one diff action. Errors are scoped to the action;
// the caller continues with the rest of the cycle regardless.
func (p *Processor) HandleAction(ctx context.Context, action scoreboard.Action) error {
	ctx, span := p.tracer.Start(ctx, "processor.monitor.handle_action",
		trace.WithAttributes(
			attribute.String("action", string(action.Type)),
			attribute.String("partition", action.Partition),
			attribute.String("match_id", action.Snapshot.ID),
		))
	defer span.End()

	p.metrics.IncActionsEmitted(ctx, string(action.Type))

	var err error
	switch action.Type {
	case scoreboard.ActionMatchStart:
		err = p.handleMatchStart(ctx, action)
	case scoreboard.ActionMatchEnd:
		err = p.handleMatchEnd(ctx, action)
	case scoreboard.ActionScoreChanged:
		err = p.handleScoreChanged(ctx, action)
	default:
		err = fmt.Errorf("unknown action type %q", action.Type)
	}

	if err != nil {
		span.SetStatus(codes.Error, "action handling failed")
		span.RecordError(err)
		return err
	}
	span.SetStatus(codes.Ok, "action handled")
	return nil
}

func (p *Processor) handleMatchStart(ctx context.Context, action scoreboard.Action) error {
	key := scoreboard.CompositeKey(action.Partition, action.Snapshot.ID)
	p.store.AddActiveMatch(key)
	return p.announceMatchStart(ctx, action.Partition, action.Snapshot)
}

// announceMatchStart delivers the kickoff announcement once. It is called on
// the pre-to-in transition and again from the live-match path until the
// identity is marked, so a delivery that failed on the transition cycle is
// retried instead of lost.
func (p *Processor) announceMatchStart(ctx context.Context, partition string, snap scoreboard.Snapshot) error {
	key := scoreboard.CompositeKey(partition, snap.ID)

	eventID := scoreboard.MatchStartEventID(snap.ID)
	if p.store.IsEventPosted(eventID) {
		p.metrics.IncDedupeHits(ctx)
		return nil
	}

	if err := p.deliver(ctx, renderMatchStart(p.partitionInfo(partition), snap)); err != nil {
		return fmt.Errorf("delivering match start: %w", err)
	}
	p.store.MarkEventPosted(eventID)

	evt := scoreboard.NewMatchStartedEvent(partition, snap)
	if err := p.publisher.PublishDomainEvent(ctx, evt, events.WithKey(key)); err != nil {
		p.logger.Error(ctx, "Match started event publication failed", "key", key, "err", err)
	}
	return nil
}

func (p *Processor) handleMatchEnd(ctx context.Context, action scoreboard.Action) error {
	key := scoreboard.CompositeKey(action.Partition, action.Snapshot.ID)

	eventID := scoreboard.MatchEndEventID(action.Snapshot.ID)
	if !p.store.IsEventPosted(eventID) {
		if err := p.deliver(ctx, renderMatchEnd(p.partitionInfo(action.Partition), action.Snapshot)); err != nil {
			return fmt.Errorf("delivering match end: %w", err)
		}
		p.store.MarkEventPosted(eventID)
	} else {
		p.metrics.IncDedupeHits(ctx)
	}

	evt := scoreboard.NewMatchEndedEvent(action.Partition, action.Snapshot)
	if err := p.publisher.PublishDomainEvent(ctx, evt, events.WithKey(key)); err != nil {
		p.logger.Error(ctx, "Match ended event publication failed", "key", key, "err", err)
	}

	p.postHighlights(ctx, action.Partition, action.Snapshot)

	// The match is done; drop its tracking state so its identities do not
	// accumulate forever.
	p.store.ClearMatchState(action.Partition, action.Snapshot.ID)
	return nil
}

// postHighlights announces the clips published for a finished match. It is
// best effort: a fetch or delivery failure never blocks the end-of-match
// flow, and clearing the match state afterwards forfeits the announcement,
// so there is at most one attempt per finished match.
func (p *Processor) postHighlights(ctx context.Context, partition string, snap scoreboard.Snapshot) {
	if p.highlights == nil {
		return
	}

	eventID := scoreboard.HighlightsEventID(snap.ID)
	if p.store.IsEventPosted(eventID) {
		p.metrics.IncDedupeHits(ctx)
		return
	}

	highlights, err := p.highlights.FetchHighlights(ctx, snap.ID)
	if err != nil {
		p.logger.Error(ctx, "Highlights fetch failed", "match_id", snap.ID, "err", err)
		return
	}
	if len(highlights) == 0 {
		return
	}

	if err := p.deliver(ctx, renderHighlights(p.partitionInfo(partition), snap, highlights)); err != nil {
		p.logger.Error(ctx, "Highlights delivery failed", "match_id", snap.ID, "err", err)
		return
	}
	p.store.MarkEventPosted(eventID)
}

func (p *Processor) handleScoreChanged(ctx context.Context, action scoreboard.Action) error {
	key := scoreboard.CompositeKey(action.Partition, action.Snapshot.ID)

	// Score updates carry no posted identity; the diff against the previous
	// snapshot is what prevents repeats.
	if err := p.deliver(ctx, renderScoreChanged(p.partitionInfo(action.Partition), action.Snapshot)); err != nil {
		return fmt.Errorf("delivering score change: %w", err)
	}

	evt := scoreboard.NewScoreChangedEvent(action.Partition, action.Snapshot)
	if err := p.publisher.PublishDomainEvent(ctx, evt, events.WithKey(key)); err != nil {
		p.logger.Error(ctx, "Score changed event publication failed", "key", key, "err", err)
	}
	return nil
}

// ProcessFinishedMatch re-runs the end-of-match flow for a finished match
// that is still tracked as active. The diff engine emits the end action only
// on the observed in-to-post transition, so when that cycle's delivery fails
// the stored snapshot is already post and no further action ever fires; this
// path re-derives the pending announcement from the active flag each cycle
// until it lands.
func (p *Processor) ProcessFinishedMatch(ctx context.Context, partition string, snap scoreboard.Snapshot) error {
	if !p.store.IsMatchActive(scoreboard.CompositeKey(partition, snap.ID)) {
		return nil
	}
	return p.handleMatchEnd(ctx, scoreboard.Action{
		Type:      scoreboard.ActionMatchEnd,
		Partition: partition,
		Snapshot:  snap,
	})
}

// ProcessLiveMatch fetches the current happenings for one live match and
// announces the new ones. A match observed live without having been seen
// transitioning (a restart, or a match discovered mid-play) is in catch-up
// mode: its current backlog is marked as seen without delivery, so the feed
// never replays history it may already have announced in a previous process
// lifetime.
func (p *Processor) ProcessLiveMatch(ctx context.Context, partition string, snap scoreboard.Snapshot) error {
	key := scoreboard.CompositeKey(partition, snap.ID)

	ctx, span := p.tracer.Start(ctx, "processor.monitor.process_live_match",
		trace.WithAttributes(
			attribute.String("partition", partition),
			attribute.String("match_id", snap.ID),
		))
	defer span.End()

	suppress := p.store.ConsumeRecoveredActiveKey(key) || !p.store.IsMatchActive(key)
	if suppress {
		p.store.AddActiveMatch(key)
		p.store.MarkEventPosted(scoreboard.MatchStartEventID(snap.ID))
		span.AddEvent("catch_up_mode")
	} else if !p.store.IsEventPosted(scoreboard.MatchStartEventID(snap.ID)) {
		// The transition cycle delivered nothing; try the kickoff
		// announcement again before the happenings.
		if err := p.announceMatchStart(ctx, partition, snap); err != nil {
			p.logger.Error(ctx, "Match start redelivery failed", "key", key, "err", err)
			span.RecordError(err)
		}
	}

	happenings, err := p.source.FetchHappenings(ctx, partition, snap.ID)
	if err != nil {
		span.SetStatus(codes.Error, "happenings fetch failed")
		span.RecordError(err)
		return fmt.Errorf("fetching happenings for %s: %w", key, err)
	}

	info := p.partitionInfo(partition)
	for _, h := range happenings {
		category, ok := scoreboard.CategorizeHappening(h.Type)
		if !ok {
			continue
		}
		if p.enabledCategories != nil {
			if _, on := p.enabledCategories[category]; !on {
				continue
			}
		}

		eventID := h.EventID(snap.ID)
		if p.store.IsEventPosted(eventID) {
			p.metrics.IncDedupeHits(ctx)
			continue
		}

		if suppress {
			p.store.MarkEventPosted(eventID)
			continue
		}

		// A failed delivery leaves the identity unmarked so a later cycle
		// retries it; the remaining happenings still get their chance.
		if err := p.deliver(ctx, renderHappening(info, snap, category, h)); err != nil {
			p.logger.Error(ctx, "Happening delivery failed",
				"key", key,
				"event_id", eventID,
				"category", category,
				"err", err,
			)
			span.RecordError(err)
			continue
		}
		p.store.MarkEventPosted(eventID)
	}

	span.SetStatus(codes.Ok, "live match processed")
	return nil
}

// deliver paces the outbound call through the rate limiter and records
// delivery metrics.
func (p *Processor) deliver(ctx context.Context, text string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for delivery slot: %w", err)
	}

	statusID, err := p.deliverer.Deliver(ctx, text)
	if err != nil {
		p.metrics.IncDeliveryErrors(ctx)
		return err
	}
	p.metrics.IncDeliveries(ctx)
	p.logger.Debug(ctx, "Delivered", "status_id", statusID)
	return nil
}

func (p *Processor) partitionInfo(partition string) PartitionInfo {
	if info, ok := p.partitions[partition]; ok {
		return info
	}
	return PartitionInfo{Name: partition}
}
