package readmodel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/ordersvc/domain"
	"example.com/ordersvc/models"
)

// MemoryStore implements Store in memory for tests and local runs. It has no
// real transactions: WithTransaction just runs fn against the same store, so
// it is only suitable where mid-transaction crashes are not being simulated.
type MemoryStore struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	nextID    uint
	failAfter int
	nextErr   error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*models.Order)}
}

// FailOnce makes the next store operation return err. Tests use it to simulate
// a transient database failure.
func (s *MemoryStore) FailOnce(err error) {
	s.FailAfter(0, err)
}

// FailAfter lets n store operations through, then fails the next one with err.
// Tests use it to place a transient failure at a specific step, such as the
// drain of a parked event after its predecessor applied.
func (s *MemoryStore) FailAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	s.nextErr = err
}

func (s *MemoryStore) takeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextErr == nil {
		return nil
	}
	if s.failAfter > 0 {
		s.failAfter--
		return nil
	}
	err := s.nextErr
	s.nextErr = nil
	return err
}

func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(tx Store) error) error {
	return fn(s)
}

func (s *MemoryStore) OrderVersion(_ context.Context, orderID string) (int, error) {
	if err := s.takeErr(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return domain.NoVersion, nil
	}
	return order.Version, nil
}

func (s *MemoryStore) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	return copyOrder(order), nil
}

func (s *MemoryStore) InsertOrder(_ context.Context, order *models.Order) error {
	if err := s.takeErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	stored := copyOrder(order)
	for i := range stored.Items {
		s.nextID++
		stored.Items[i].ID = s.nextID
		stored.Items[i].OrderID = stored.ID
	}
	for i := range stored.StatusHistory {
		s.nextID++
		stored.StatusHistory[i].ID = s.nextID
	}
	s.orders[order.ID] = stored
	return nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, orderID string, fields map[string]interface{}) error {
	if err := s.takeErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	for key, value := range fields {
		switch key {
		case "status":
			order.Status = value.(string)
		case "version":
			order.Version = value.(int)
		case "updated_at":
			order.UpdatedAt = value.(time.Time)
		case "payment_id":
			order.PaymentID = strPtr(value)
		case "payment_method":
			order.PaymentMethod = strPtr(value)
		case "shipment_id":
			order.ShipmentID = strPtr(value)
		case "tracking_number":
			order.TrackingNumber = strPtr(value)
		default:
			return fmt.Errorf("unsupported column %q", key)
		}
	}
	return nil
}

func (s *MemoryStore) AppendStatusHistory(_ context.Context, entry *models.OrderStatusHistory) error {
	if err := s.takeErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[entry.OrderID]
	if !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, entry.OrderID)
	}
	s.nextID++
	row := *entry
	row.ID = s.nextID
	order.StatusHistory = append(order.StatusHistory, row)
	return nil
}

func (s *MemoryStore) ListOrdersByCustomer(_ context.Context, customerID string) ([]models.Order, error) {
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Order
	for _, order := range s.orders {
		if order.CustomerID == customerID {
			out = append(out, *copyOrder(order))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) ListOrdersByStatus(_ context.Context, status string) ([]models.Order, error) {
	if err := s.takeErr(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Order
	for _, order := range s.orders {
		if order.Status == status {
			out = append(out, *copyOrder(order))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(orders []models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

func copyOrder(order *models.Order) *models.Order {
	cp := *order
	cp.Items = append([]models.OrderItem(nil), order.Items...)
	cp.StatusHistory = append([]models.OrderStatusHistory(nil), order.StatusHistory...)
	return &cp
}

func strPtr(value interface{}) *string {
	s := value.(string)
	return &s
}
