// Package event defines the immutable domain events stored in the event log.
//
// Events are facts produced by synchronization with the upstream
// system-of-record. They are written once and never edited; the only mutable
// part is the delivered-to set, which records the projections that have
// applied the event.
package event

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Type identifies the shape of an event payload.
type Type string

const (
	TypeUserSynced        Type = "user.synced"
	TypeOpportunitySynced Type = "opportunity.synced"
	TypeActivitySynced    Type = "activity.synced"
	TypeRecordDeactivated Type = "record.deactivated"
)

// Types lists every event type known to this build.
func Types() []Type {
	return []Type{TypeUserSynced, TypeOpportunitySynced, TypeActivitySynced, TypeRecordDeactivated}
}

// Known reports whether t is one of the declared event types.
func (t Type) Known() bool {
	return slices.Contains(Types(), t)
}

// AggregateType names the kind of entity an event is about.
type AggregateType string

const (
	AggregateUser        AggregateType = "user"
	AggregateOpportunity AggregateType = "opportunity"
	AggregateActivity    AggregateType = "activity"
)

// ParseAggregateType validates a raw aggregate type string.
func ParseAggregateType(raw string) (AggregateType, error) {
	switch t := AggregateType(raw); t {
	case AggregateUser, AggregateOpportunity, AggregateActivity:
		return t, nil
	default:
		return "", fmt.Errorf("unknown aggregate type %q", raw)
	}
}

// SyncedType returns the event type emitted when an aggregate of this kind is synchronized.
func (a AggregateType) SyncedType() Type {
	switch a {
	case AggregateUser:
		return TypeUserSynced
	case AggregateOpportunity:
		return TypeOpportunitySynced
	case AggregateActivity:
		return TypeActivitySynced
	default:
		return ""
	}
}

// Metadata describes where an event came from.
type Metadata struct {
	// Source is the originating process, e.g. "crm-sync".
	Source string `json:"source,omitempty"`
	// CorrelationID ties together all events of one synchronization batch.
	CorrelationID string `json:"correlation_id,omitempty"`
	// ActorID is the internal id of the subject that triggered the event, if human-triggered.
	ActorID string `json:"actor_id,omitempty"`
}

// Event is an immutable fact about one aggregate.
type Event struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	AggregateType AggregateType   `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      Metadata        `json:"metadata"`
	Timestamp     time.Time       `json:"timestamp"`
	// Version is the per-aggregate version, starting at 1.
	Version int64 `json:"version"`
	// Seq is the global log position assigned at append time.
	Seq         int64    `json:"seq"`
	DeliveredTo []string `json:"delivered_to,omitempty"`
}

// New builds an event with a fresh id and a JSON-encoded payload.
func New(typ Type, aggType AggregateType, aggID string, version int64, payload any, meta Metadata) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Event{
		ID:            uuid.NewString(),
		Type:          typ,
		AggregateType: aggType,
		AggregateID:   aggID,
		Payload:       raw,
		Metadata:      meta,
		Version:       version,
	}, nil
}

// Decode unmarshals the payload into dst.
func (e Event) Decode(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload of event %s: %w", e.Type, e.ID, err)
	}
	return nil
}

// Delivered reports whether the named projection has applied this event.
func (e Event) Delivered(projection string) bool {
	return slices.Contains(e.DeliveredTo, projection)
}

// Less orders events by timestamp, then by log position.
func Less(a, b Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Seq < b.Seq
}

// Clone returns a copy that shares no mutable state with e.
func (e Event) Clone() Event {
	out := e
	out.Payload = slices.Clone(e.Payload)
	out.DeliveredTo = slices.Clone(e.DeliveredTo)
	return out
}
