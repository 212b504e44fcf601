// Package messaging moves events and commands over the partitioned log. Events
// are keyed by aggregate ID so one aggregate's events always land on one
// partition, which is what keeps per-order ordering on the wire.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/ordersvc/domain"
)

// TopicPrefix namespaces all order topics.
const TopicPrefix = "orders"

// DeadLetterTopic receives messages the projection consumer cannot decode.
const DeadLetterTopic = TopicPrefix + ".deadletter"

// Topic returns the wire topic for an event kind: orders.created, orders.paid,
// orders.shipped, orders.cancelled.
func Topic(kind string) string {
	return TopicPrefix + "." + kind
}

// EventTopics lists every topic the publisher writes order events to.
func EventTopics() []string {
	return []string{
		Topic(domain.OrderCreated),
		Topic(domain.OrderPaid),
		Topic(domain.OrderShipped),
		Topic(domain.OrderCancelled),
	}
}

// Envelope is the wire form of a domain event. Consumers dedupe on
// (aggregate_id, version).
type Envelope struct {
	EventID       string          `json:"event_id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Kind          string          `json:"kind"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// Encode serializes a domain event into its wire envelope.
func Encode(event domain.Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload of event %s: %w", event.ID, err)
	}
	return json.Marshal(Envelope{
		EventID:       event.ID,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		Kind:          event.Kind,
		Version:       event.Version,
		Timestamp:     event.Timestamp,
		Payload:       payload,
	})
}

// DecodeEnvelope parses a wire envelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	return envelope, nil
}

// DomainEvent converts the envelope back into a typed domain event.
func (e Envelope) DomainEvent() (domain.Event, error) {
	data, err := domain.DecodePayload(e.Kind, e.Payload)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{
		ID:            e.EventID,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		Kind:          e.Kind,
		Version:       e.Version,
		Timestamp:     e.Timestamp,
		Data:          data,
	}, nil
}

// EventPublisher pushes committed events onto the event log.
type EventPublisher interface {
	// Publish delivers the events in order. It is at-least-once: callers must
	// tolerate duplicates downstream.
	Publish(ctx context.Context, events []domain.Event) error
	Close() error
}

// NopPublisher discards events. Used when no broker is configured; the stored
// stream stays the source of truth.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []domain.Event) error { return nil }
func (NopPublisher) Close() error                                  { return nil }
