package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"example.com/ordersvc/domain"
)

type memoryRow struct {
	event     domain.Event
	storedAt  time.Time
	published bool
}

// MemoryEventStore implements the full EventStore contract in memory. It backs
// tests and local runs without a database.
type MemoryEventStore struct {
	mu        sync.Mutex
	log       []*memoryRow
	streams   map[string][]*memoryRow
	byEventID map[string]*memoryRow
	snapshots map[string]Snapshot

	snapshotEvery int
	snapshotFn    SnapshotFunc
}

// NewMemoryEventStore creates an empty store with snapshotting disabled.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		streams:   make(map[string][]*memoryRow),
		byEventID: make(map[string]*memoryRow),
		snapshots: make(map[string]Snapshot),
	}
}

// EnableSnapshots turns on the same snapshot policy the relational store uses.
func (s *MemoryEventStore) EnableSnapshots(every int, fn SnapshotFunc) {
	s.snapshotEvery = every
	s.snapshotFn = fn
}

func (s *MemoryEventStore) Append(ctx context.Context, aggregateID string, events []domain.Event, expectedVersion int) error {
	if len(events) == 0 {
		return nil
	}
	for i, event := range events {
		if event.Version != expectedVersion+1+i {
			return fmt.Errorf("%w: aggregate %s event version %d does not continue expected version %d",
				domain.ErrCorruptStream, aggregateID, event.Version, expectedVersion)
		}
	}
	head, err := s.append(aggregateID, events, expectedVersion)
	if err != nil {
		return err
	}
	maybeSnapshot(ctx, s, s.snapshotFn, s.snapshotEvery, aggregateID, head)
	return nil
}

func (s *MemoryEventStore) append(aggregateID string, events []domain.Event, expectedVersion int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := domain.NoVersion
	if stream := s.streams[aggregateID]; len(stream) > 0 {
		current = stream[len(stream)-1].event.Version
	}
	if current != expectedVersion {
		return 0, fmt.Errorf("%w: aggregate %s is at version %d, expected %d",
			domain.ErrConcurrencyConflict, aggregateID, current, expectedVersion)
	}

	now := time.Now().UTC()
	head := expectedVersion
	for _, event := range events {
		row := &memoryRow{event: event, storedAt: now}
		s.log = append(s.log, row)
		s.streams[aggregateID] = append(s.streams[aggregateID], row)
		s.byEventID[event.ID] = row
		head = event.Version
	}
	return head, nil
}

func (s *MemoryEventStore) LoadEvents(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	return s.LoadEventsAfter(ctx, aggregateID, domain.NoVersion)
}

func (s *MemoryEventStore) LoadEventsAfter(_ context.Context, aggregateID string, afterVersion int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []domain.Event
	for _, row := range s.streams[aggregateID] {
		if row.event.Version > afterVersion {
			events = append(events, row.event)
		}
	}
	return events, nil
}

func (s *MemoryEventStore) LastEvent(_ context.Context, aggregateID string) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	if len(stream) == 0 {
		return nil, nil
	}
	event := stream[len(stream)-1].event
	return &event, nil
}

func (s *MemoryEventStore) Exists(_ context.Context, aggregateID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[aggregateID]) > 0, nil
}

func (s *MemoryEventStore) SaveSnapshot(_ context.Context, aggregateID string, state json.RawMessage, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[aggregateID] = Snapshot{
		AggregateID: aggregateID,
		Version:     version,
		State:       append(json.RawMessage(nil), state...),
		Timestamp:   time.Now().UTC(),
	}
	return nil
}

func (s *MemoryEventStore) LoadSnapshot(_ context.Context, aggregateID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

func (s *MemoryEventStore) UnpublishedEvents(_ context.Context, olderThan time.Time, limit int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []domain.Event
	for _, row := range s.log {
		if row.published || !row.storedAt.Before(olderThan) {
			continue
		}
		events = append(events, row.event)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *MemoryEventStore) MarkPublished(_ context.Context, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range eventIDs {
		if row, ok := s.byEventID[id]; ok {
			row.published = true
		}
	}
	return nil
}
