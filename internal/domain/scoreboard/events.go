package scoreboard

import (
	"time"

	"github.com/matchpulse/matchpulse/internal/domain/events"
)

// Lifecycle domain event types published on the event bus for downstream
// consumers beyond the direct delivery path.
const (
	EventTypeMatchStarted events.EventType = "MatchStarted"
	EventTypeMatchEnded   events.EventType = "MatchEnded"
	EventTypeScoreChanged events.EventType = "ScoreChanged"
)

// MatchStartedEvent signals that a tracked match transitioned from pre to in.
type MatchStartedEvent struct {
	occurredAt time.Time
	Partition  string   `json:"partition"`
	Snapshot   Snapshot `json:"snapshot"`
}

// NewMatchStartedEvent constructs a MatchStartedEvent capturing the current
// time and the snapshot that triggered the transition.
func NewMatchStartedEvent(partition string, snap Snapshot) MatchStartedEvent {
	return MatchStartedEvent{occurredAt: time.Now(), Partition: partition, Snapshot: snap}
}

// EventType satisfies the events.DomainEvent interface.
func (e MatchStartedEvent) EventType() events.EventType { return EventTypeMatchStarted }

// OccurredAt satisfies the events.DomainEvent interface.
func (e MatchStartedEvent) OccurredAt() time.Time { return e.occurredAt }

// MatchEndedEvent signals that a tracked match transitioned from in to post.
type MatchEndedEvent struct {
	occurredAt time.Time
	Partition  string   `json:"partition"`
	Snapshot   Snapshot `json:"snapshot"`
}

// NewMatchEndedEvent constructs a MatchEndedEvent for the given final
// snapshot.
func NewMatchEndedEvent(partition string, snap Snapshot) MatchEndedEvent {
	return MatchEndedEvent{occurredAt: time.Now(), Partition: partition, Snapshot: snap}
}

// EventType satisfies the events.DomainEvent interface.
func (e MatchEndedEvent) EventType() events.EventType { return EventTypeMatchEnded }

// OccurredAt satisfies the events.DomainEvent interface.
func (e MatchEndedEvent) OccurredAt() time.Time { return e.occurredAt }

// ScoreChangedEvent signals that a live match's score moved.
type ScoreChangedEvent struct {
	occurredAt time.Time
	Partition  string   `json:"partition"`
	Snapshot   Snapshot `json:"snapshot"`
}

// NewScoreChangedEvent constructs a ScoreChangedEvent for the given snapshot.
func NewScoreChangedEvent(partition string, snap Snapshot) ScoreChangedEvent {
	return ScoreChangedEvent{occurredAt: time.Now(), Partition: partition, Snapshot: snap}
}

// EventType satisfies the events.DomainEvent interface.
func (e ScoreChangedEvent) EventType() events.EventType { return EventTypeScoreChanged }

// OccurredAt satisfies the events.DomainEvent interface.
func (e ScoreChangedEvent) OccurredAt() time.Time { return e.occurredAt }
