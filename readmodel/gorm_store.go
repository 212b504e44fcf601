package readmodel

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"example.com/ordersvc/domain"
	"example.com/ordersvc/models"
)

// GormStore implements Store on a relational database through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over an opened database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) WithTransaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) OrderVersion(ctx context.Context, orderID string) (int, error) {
	var row models.Order
	err := s.db.WithContext(ctx).
		Select("version").
		Where("id = ?", orderID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NoVersion, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version of order %s: %w", orderID, err)
	}
	return row.Version, nil
}

func (s *GormStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var row models.Order
	err := s.db.WithContext(ctx).
		Preload("Items").
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp ASC")
		}).
		Where("id = ?", orderID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	return &row, nil
}

func (s *GormStore) InsertOrder(ctx context.Context, order *models.Order) error {
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to insert order %s: %w", order.ID, err)
	}
	return nil
}

func (s *GormStore) UpdateOrder(ctx context.Context, orderID string, fields map[string]interface{}) error {
	result := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update order %s: %w", orderID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	return nil
}

func (s *GormStore) AppendStatusHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append status history for order %s: %w", entry.OrderID, err)
	}
	return nil
}

func (s *GormStore) ListOrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	var rows []models.Order
	if err := s.db.WithContext(ctx).
		Preload("Items").
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders for customer %s: %w", customerID, err)
	}
	return rows, nil
}

func (s *GormStore) ListOrdersByStatus(ctx context.Context, status string) ([]models.Order, error) {
	var rows []models.Order
	if err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders with status %s: %w", status, err)
	}
	return rows, nil
}
