package models

import "time"

// Event is a stored domain event. The composite unique index on
// (aggregate_id, version) is the optimistic-concurrency guard: two writers
// racing to append the same version hit a duplicate-key error, and versions
// stay dense per aggregate.
type Event struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	EventID       string     `gorm:"uniqueIndex;size:36" json:"event_id"`
	AggregateID   string     `gorm:"uniqueIndex:idx_events_aggregate_version;size:36" json:"aggregate_id"`
	AggregateType string     `gorm:"size:50" json:"aggregate_type"`
	Kind          string     `gorm:"size:50" json:"kind"`
	Data          []byte     `json:"data"`
	Version       int        `gorm:"uniqueIndex:idx_events_aggregate_version" json:"version"`
	Timestamp     time.Time  `json:"timestamp"`
	Published     bool       `gorm:"index" json:"published"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Snapshot is the latest materialized state per aggregate. Snapshots are an
// optimization only; the event log stays the source of truth.
type Snapshot struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AggregateID string    `gorm:"uniqueIndex;size:36" json:"aggregate_id"`
	Version     int       `json:"version"`
	State       []byte    `json:"state"`
	Timestamp   time.Time `json:"timestamp"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
