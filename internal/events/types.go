package events

import (
	"time"
)

// EventType classifies worker audit events.
type EventType string

const (
	// EventRecordRepaired fires when a retry queue row is repaired and deleted.
	EventRecordRepaired EventType = "record.repaired"
	// EventRecordFailed fires when a repair attempt advances a row's retry status.
	EventRecordFailed EventType = "record.failed"
	// EventRecordDiscarded fires when a row is deleted without a repair
	// (suspension short-circuit or stale-document cleanup).
	EventRecordDiscarded EventType = "record.discarded"
	// EventQueuePurged fires when a suspend-all purge clears the queue.
	EventQueuePurged EventType = "queue.purged"
	// EventSuspensionChanged fires when the reindex suspension scope changes.
	EventSuspensionChanged EventType = "suspension.changed"
	// EventCascadeTruncated fires when a cascade hits the visit limit.
	EventCascadeTruncated EventType = "cascade.truncated"
)

// Event is one worker audit event.
type Event struct {
	Type       EventType
	EntityID   string
	EntityFQN  string
	EntityType string
	Detail     string
	Count      int
	Timestamp  time.Time
}

// Filter selects which events a subscriber receives. A zero filter matches
// everything.
type Filter struct {
	Types []EventType
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(e Event) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}
