// Package domain holds the order aggregate and its event model. An order is
// never stored as a row of current state; it is the fold of its event stream.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Order status values. These are derived from events, never set directly.
const (
	StatusCreated   = "Created"
	StatusPaid      = "Paid"
	StatusShipped   = "Shipped"
	StatusCancelled = "Cancelled"
)

// snapshotSchemaVersion tags persisted snapshots so state shape changes can
// invalidate them without touching the event log.
const snapshotSchemaVersion = 1

// OrderState is the current state projected from an order's event stream.
type OrderState struct {
	OrderID         string      `json:"order_id"`
	CustomerID      string      `json:"customer_id"`
	Items           []OrderItem `json:"items"`
	TotalAmount     float64     `json:"total_amount"`
	ShippingAddress string      `json:"shipping_address"`
	Status          string      `json:"status"`
	PaymentID       string      `json:"payment_id,omitempty"`
	PaymentMethod   string      `json:"payment_method,omitempty"`
	ShipmentID      string      `json:"shipment_id,omitempty"`
	TrackingNumber  string      `json:"tracking_number,omitempty"`
}

// OrderAggregate is the write-side order aggregate.
type OrderAggregate struct {
	*AggregateBase
	State OrderState
}

// NewOrderAggregate creates an empty order aggregate ready for rehydration or
// a Create command.
func NewOrderAggregate(id string) *OrderAggregate {
	aggregate := &OrderAggregate{State: OrderState{OrderID: id}}
	aggregate.AggregateBase = NewAggregateBase(id, AggregateTypeOrder, aggregate.applyEvent)
	return aggregate
}

// Create raises OrderCreated. The order total is computed from the items here
// and fixed for the life of the order.
func (a *OrderAggregate) Create(customerID string, items []OrderItem, shippingAddress string) error {
	if a.GetVersion() != NoVersion {
		return fmt.Errorf("%w: order %s already exists", ErrIllegalTransition, a.GetID())
	}
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidCommand)
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrInvalidCommand)
	}
	for _, item := range items {
		if item.ProductID == "" {
			return fmt.Errorf("%w: item product id is required", ErrInvalidCommand)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %s quantity must be at least 1", ErrInvalidCommand, item.ProductID)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: item %s unit price must not be negative", ErrInvalidCommand, item.ProductID)
		}
	}
	return a.Raise(OrderCreatedEvent{
		CustomerID:      customerID,
		Items:           items,
		TotalAmount:     OrderTotal(items),
		ShippingAddress: shippingAddress,
	})
}

// MarkPaid raises OrderPaid. The paid amount must match the order total to
// cent precision.
func (a *OrderAggregate) MarkPaid(paymentID string, amountPaid float64, paymentMethod string) error {
	if a.State.Status != StatusCreated {
		return fmt.Errorf("%w: cannot pay order %s in status %q",
			ErrIllegalTransition, a.GetID(), a.State.Status)
	}
	if !amountsEqual(amountPaid, a.State.TotalAmount) {
		return fmt.Errorf("%w: payment amount %.2f does not match order total %.2f",
			ErrInvalidCommand, amountPaid, a.State.TotalAmount)
	}
	return a.Raise(OrderPaidEvent{
		PaymentID:     paymentID,
		AmountPaid:    amountPaid,
		PaymentMethod: paymentMethod,
	})
}

// Ship raises OrderShipped. Only paid orders ship.
func (a *OrderAggregate) Ship(shipmentID, trackingNumber string) error {
	if a.State.Status != StatusPaid {
		return fmt.Errorf("%w: cannot ship order %s in status %q",
			ErrIllegalTransition, a.GetID(), a.State.Status)
	}
	return a.Raise(OrderShippedEvent{
		ShipmentID:     shipmentID,
		TrackingNumber: trackingNumber,
		ShippedDate:    time.Now().UTC(),
	})
}

// Cancel raises OrderCancelled. Shipped and already-cancelled orders are
// terminal. RefundRequired is derived from the pre-cancellation status.
func (a *OrderAggregate) Cancel(reason string) error {
	if a.State.Status != StatusCreated && a.State.Status != StatusPaid {
		return fmt.Errorf("%w: cannot cancel order %s in status %q",
			ErrIllegalTransition, a.GetID(), a.State.Status)
	}
	return a.Raise(OrderCancelledEvent{
		Reason:         reason,
		RefundRequired: a.State.Status == StatusPaid,
	})
}

func (a *OrderAggregate) applyEvent(data interface{}) error {
	switch event := data.(type) {
	case OrderCreatedEvent:
		a.State.CustomerID = event.CustomerID
		a.State.Items = event.Items
		a.State.TotalAmount = event.TotalAmount
		a.State.ShippingAddress = event.ShippingAddress
		a.State.Status = StatusCreated
	case OrderPaidEvent:
		a.State.Status = StatusPaid
		a.State.PaymentID = event.PaymentID
		a.State.PaymentMethod = event.PaymentMethod
	case OrderShippedEvent:
		a.State.Status = StatusShipped
		a.State.ShipmentID = event.ShipmentID
		a.State.TrackingNumber = event.TrackingNumber
	case OrderCancelledEvent:
		a.State.Status = StatusCancelled
	default:
		return fmt.Errorf("unknown event payload type: %T", data)
	}
	return nil
}

type orderSnapshot struct {
	SchemaVersion int        `json:"schema_version"`
	State         OrderState `json:"state"`
}

// SnapshotState serializes the current state for the snapshot store.
func (a *OrderAggregate) SnapshotState() (json.RawMessage, error) {
	return json.Marshal(orderSnapshot{SchemaVersion: snapshotSchemaVersion, State: a.State})
}

// RestoreSnapshot replaces state and version from a snapshot. A snapshot with
// an unknown schema version is rejected; callers fall back to full replay.
func (a *OrderAggregate) RestoreSnapshot(state json.RawMessage, version int) error {
	var snapshot orderSnapshot
	if err := json.Unmarshal(state, &snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snapshot.SchemaVersion != snapshotSchemaVersion {
		return fmt.Errorf("unsupported snapshot schema version %d", snapshot.SchemaVersion)
	}
	a.State = snapshot.State
	a.RestoreVersion(version)
	return nil
}

// OrderSnapshotter folds a full event history into a snapshot blob. The event
// store calls it when its snapshot policy fires.
func OrderSnapshotter(aggregateID string, events []Event) (json.RawMessage, error) {
	aggregate := NewOrderAggregate(aggregateID)
	if err := aggregate.LoadFromHistory(events); err != nil {
		return nil, err
	}
	return aggregate.SnapshotState()
}

// OrderTotal sums quantity times unit price over the items at cent precision.
func OrderTotal(items []OrderItem) float64 {
	var cents int64
	for _, item := range items {
		cents += int64(item.Quantity) * toCents(item.UnitPrice)
	}
	return float64(cents) / 100
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// amountsEqual compares monetary values at cent precision to avoid float
// representation noise.
func amountsEqual(a, b float64) bool {
	return toCents(a) == toCents(b)
}
