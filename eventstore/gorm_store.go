package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/ordersvc/domain"
	"example.com/ordersvc/models"
)

// GormEventStore implements EventStore on a relational database through GORM.
// The database must be opened with TranslateError so unique-key violations
// surface as gorm.ErrDuplicatedKey.
type GormEventStore struct {
	db            *gorm.DB
	snapshotEvery int
	snapshotFn    SnapshotFunc
}

// NewGormEventStore creates a store. snapshotEvery of 0 or a nil snapshotFn
// disables snapshotting.
func NewGormEventStore(db *gorm.DB, snapshotEvery int, snapshotFn SnapshotFunc) *GormEventStore {
	return &GormEventStore{db: db, snapshotEvery: snapshotEvery, snapshotFn: snapshotFn}
}

func (s *GormEventStore) Append(ctx context.Context, aggregateID string, events []domain.Event, expectedVersion int) error {
	if len(events) == 0 {
		return nil
	}
	for i, event := range events {
		if event.Version != expectedVersion+1+i {
			return fmt.Errorf("%w: aggregate %s event version %d does not continue expected version %d",
				domain.ErrCorruptStream, aggregateID, event.Version, expectedVersion)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int
		if err := tx.Model(&models.Event{}).
			Where("aggregate_id = ?", aggregateID).
			Select("COALESCE(MAX(version), -1)").
			Scan(&current).Error; err != nil {
			return fmt.Errorf("failed to read stream head: %w", err)
		}
		if current != expectedVersion {
			return fmt.Errorf("%w: aggregate %s is at version %d, expected %d",
				domain.ErrConcurrencyConflict, aggregateID, current, expectedVersion)
		}

		for _, event := range events {
			data, err := json.Marshal(event.Data)
			if err != nil {
				return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
			}
			row := models.Event{
				EventID:       event.ID,
				AggregateID:   event.AggregateID,
				AggregateType: event.AggregateType,
				Kind:          event.Kind,
				Data:          data,
				Version:       event.Version,
				Timestamp:     event.Timestamp,
			}
			if err := tx.Create(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: version %d already stored for aggregate %s",
						domain.ErrConcurrencyConflict, event.Version, aggregateID)
				}
				return fmt.Errorf("failed to save event: %w", err)
			}
			log.Info().
				Str("aggregateID", event.AggregateID).
				Str("kind", event.Kind).
				Int("version", event.Version).
				Msg("Event appended")
		}
		return nil
	})
	if err != nil {
		return err
	}

	maybeSnapshot(ctx, s, s.snapshotFn, s.snapshotEvery, aggregateID, events[len(events)-1].Version)
	return nil
}

func (s *GormEventStore) LoadEvents(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	return s.LoadEventsAfter(ctx, aggregateID, domain.NoVersion)
}

func (s *GormEventStore) LoadEventsAfter(ctx context.Context, aggregateID string, afterVersion int) ([]domain.Event, error) {
	var rows []models.Event
	if err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND version > ?", aggregateID, afterVersion).
		Order("version ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load events for aggregate %s: %w", aggregateID, err)
	}
	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		event, err := toDomainEvent(row)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *GormEventStore) LastEvent(ctx context.Context, aggregateID string) (*domain.Event, error) {
	var row models.Event
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("version DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last event for aggregate %s: %w", aggregateID, err)
	}
	event, err := toDomainEvent(row)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *GormEventStore) Exists(ctx context.Context, aggregateID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("aggregate_id = ?", aggregateID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check aggregate %s: %w", aggregateID, err)
	}
	return count > 0, nil
}

func (s *GormEventStore) SaveSnapshot(ctx context.Context, aggregateID string, state json.RawMessage, version int) error {
	snapshot := models.Snapshot{
		AggregateID: aggregateID,
		Version:     version,
		State:       state,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "aggregate_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"version", "state", "timestamp", "updated_at"}),
		}).
		Create(&snapshot).Error; err != nil {
		return fmt.Errorf("failed to save snapshot for aggregate %s: %w", aggregateID, err)
	}
	return nil
}

func (s *GormEventStore) LoadSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var row models.Snapshot
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for aggregate %s: %w", aggregateID, err)
	}
	return &Snapshot{
		AggregateID: row.AggregateID,
		Version:     row.Version,
		State:       row.State,
		Timestamp:   row.Timestamp,
	}, nil
}

func (s *GormEventStore) UnpublishedEvents(ctx context.Context, olderThan time.Time, limit int) ([]domain.Event, error) {
	var rows []models.Event
	if err := s.db.WithContext(ctx).
		Where("published = ? AND created_at < ?", false, olderThan).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load unpublished events: %w", err)
	}
	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		event, err := toDomainEvent(row)
		if err != nil {
			// An undecodable row must not wedge the sweep.
			log.Error().Err(err).Str("eventID", row.EventID).Msg("Skipping undecodable unpublished event")
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *GormEventStore) MarkPublished(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id IN ?", eventIDs).
		Updates(map[string]interface{}{"published": true, "published_at": &now}).Error; err != nil {
		return fmt.Errorf("failed to mark events published: %w", err)
	}
	return nil
}

func toDomainEvent(row models.Event) (domain.Event, error) {
	data, err := domain.DecodePayload(row.Kind, row.Data)
	if err != nil {
		return domain.Event{}, fmt.Errorf("%w: event %s: %v", domain.ErrCorruptStream, row.EventID, err)
	}
	return domain.Event{
		ID:            row.EventID,
		AggregateID:   row.AggregateID,
		AggregateType: row.AggregateType,
		Kind:          row.Kind,
		Version:       row.Version,
		Timestamp:     row.Timestamp,
		Data:          data,
	}, nil
}
