// Package eventstore persists aggregate event streams with optimistic
// concurrency and advisory snapshots, and exposes the unpublished-event
// backlog that the outbox sweep drains.
package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/ordersvc/domain"
)

// Snapshot is a point-in-time materialization of aggregate state at Version.
type Snapshot struct {
	AggregateID string
	Version     int
	State       json.RawMessage
	Timestamp   time.Time
}

// SnapshotFunc folds a full event history into a snapshot blob. Stores call it
// when the snapshot policy fires; the domain package supplies the fold.
type SnapshotFunc func(aggregateID string, events []domain.Event) (json.RawMessage, error)

// EventStore is the append-only event log.
type EventStore interface {
	// Append atomically stores events for one aggregate. expectedVersion is
	// the version of the last stored event (domain.NoVersion for a new
	// stream); the supplied events must continue it densely. Returns
	// domain.ErrConcurrencyConflict when the stream head has moved.
	Append(ctx context.Context, aggregateID string, events []domain.Event, expectedVersion int) error

	// LoadEvents returns the aggregate's full history sorted by version
	// ascending, empty when the aggregate has none.
	LoadEvents(ctx context.Context, aggregateID string) ([]domain.Event, error)

	// LoadEventsAfter returns events with version greater than afterVersion,
	// ascending. Used to replay the tail above a snapshot.
	LoadEventsAfter(ctx context.Context, aggregateID string, afterVersion int) ([]domain.Event, error)

	// LastEvent returns the newest event, or nil when the stream is empty.
	LastEvent(ctx context.Context, aggregateID string) (*domain.Event, error)

	// Exists reports whether the aggregate has any stored events.
	Exists(ctx context.Context, aggregateID string) (bool, error)

	// SaveSnapshot upserts the aggregate's snapshot. At most one snapshot is
	// kept per aggregate.
	SaveSnapshot(ctx context.Context, aggregateID string, state json.RawMessage, version int) error

	// LoadSnapshot returns the aggregate's snapshot, or nil when none exists.
	LoadSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)

	// UnpublishedEvents returns events not yet handed to the event log,
	// oldest first, skipping events stored after olderThan so in-flight
	// publishes are not raced.
	UnpublishedEvents(ctx context.Context, olderThan time.Time, limit int) ([]domain.Event, error)

	// MarkPublished records that the events reached the event log.
	MarkPublished(ctx context.Context, eventIDs []string) error
}

// maybeSnapshot refreshes the aggregate's snapshot when the stream head hits
// the configured period. Best effort: the append already committed, so
// failures are logged and swallowed.
func maybeSnapshot(ctx context.Context, store EventStore, fn SnapshotFunc, every int, aggregateID string, head int) {
	if fn == nil || every <= 0 {
		return
	}
	if head <= 0 || head%every != 0 {
		return
	}
	history, err := store.LoadEvents(ctx, aggregateID)
	if err != nil {
		log.Error().Err(err).Str("aggregateID", aggregateID).Msg("Failed to load history for snapshot")
		return
	}
	state, err := fn(aggregateID, history)
	if err != nil {
		log.Error().Err(err).Str("aggregateID", aggregateID).Msg("Failed to build snapshot state")
		return
	}
	if err := store.SaveSnapshot(ctx, aggregateID, state, head); err != nil {
		log.Error().Err(err).Str("aggregateID", aggregateID).Msg("Failed to save snapshot")
		return
	}
	log.Info().Str("aggregateID", aggregateID).Int("version", head).Msg("Snapshot saved")
}
