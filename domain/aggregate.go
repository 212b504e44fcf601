package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NoVersion is the version of an aggregate with no stored events. The first
// event of every stream carries version 0.
const NoVersion = -1

// Aggregate is the common surface of event-sourced aggregates.
type Aggregate interface {
	GetID() string
	GetType() string
	GetVersion() int
	GetUncommittedEvents() []Event
	ClearUncommittedEvents()
}

// AggregateBase carries the identity, version and uncommitted-event buffer
// shared by all aggregates. Concrete aggregates inject their state mutation
// through the applier func so Raise and LoadFromHistory share one code path.
type AggregateBase struct {
	id            string
	aggregateType string
	version       int
	uncommitted   []Event
	applier       func(data interface{}) error
}

// NewAggregateBase creates a base at NoVersion.
func NewAggregateBase(id, aggregateType string, applier func(data interface{}) error) *AggregateBase {
	return &AggregateBase{
		id:            id,
		aggregateType: aggregateType,
		version:       NoVersion,
		applier:       applier,
	}
}

// GetID returns the aggregate ID.
func (a *AggregateBase) GetID() string {
	return a.id
}

// GetType returns the aggregate type.
func (a *AggregateBase) GetType() string {
	return a.aggregateType
}

// GetVersion returns the version of the last applied event, or NoVersion.
func (a *AggregateBase) GetVersion() int {
	return a.version
}

// GetUncommittedEvents returns events raised since the last Clear.
func (a *AggregateBase) GetUncommittedEvents() []Event {
	return a.uncommitted
}

// ClearUncommittedEvents drops the buffer after a successful append.
func (a *AggregateBase) ClearUncommittedEvents() {
	a.uncommitted = nil
}

// Raise mutates state through the applier and records a new uncommitted event
// at the next version. The state change and the event are produced together;
// a rejected mutation records nothing.
func (a *AggregateBase) Raise(data interface{}) error {
	kind, err := KindOf(data)
	if err != nil {
		return err
	}
	if err := a.applier(data); err != nil {
		return err
	}
	a.version++
	a.uncommitted = append(a.uncommitted, Event{
		ID:            uuid.New().String(),
		AggregateID:   a.id,
		AggregateType: a.aggregateType,
		Kind:          kind,
		Version:       a.version,
		Timestamp:     time.Now().UTC(),
		Data:          data,
	})
	return nil
}

// LoadFromHistory replays stored events in order. Versions must continue the
// current version densely; a gap or regression means the stream is corrupt.
func (a *AggregateBase) LoadFromHistory(events []Event) error {
	for _, event := range events {
		if event.Version != a.version+1 {
			return fmt.Errorf("%w: aggregate %s expected version %d, got %d",
				ErrCorruptStream, a.id, a.version+1, event.Version)
		}
		if err := a.applier(event.Data); err != nil {
			return fmt.Errorf("%w: aggregate %s version %d: %v",
				ErrCorruptStream, a.id, event.Version, err)
		}
		a.version = event.Version
	}
	return nil
}

// RestoreVersion sets the version directly when state was restored from a
// snapshot instead of replay.
func (a *AggregateBase) RestoreVersion(version int) {
	a.version = version
}
