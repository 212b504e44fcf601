package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AggregateTypeOrder is the aggregate type discriminator for orders.
const AggregateTypeOrder = "order"

// Event kinds. The kind doubles as the topic suffix on the wire
// (orders.created, orders.paid, ...).
const (
	OrderCreated   = "created"
	OrderPaid      = "paid"
	OrderShipped   = "shipped"
	OrderCancelled = "cancelled"
)

// Event is a fact recorded against an aggregate. Version is the event's
// position in the aggregate's stream, dense from 0.
type Event struct {
	ID            string      `json:"id"`
	AggregateID   string      `json:"aggregate_id"`
	AggregateType string      `json:"aggregate_type"`
	Kind          string      `json:"kind"`
	Version       int         `json:"version"`
	Timestamp     time.Time   `json:"timestamp"`
	Data          interface{} `json:"data"`
}

// OrderItem is a line item captured at order creation.
type OrderItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// OrderCreatedEvent records a new order with its immutable line items.
type OrderCreatedEvent struct {
	CustomerID      string      `json:"customer_id"`
	Items           []OrderItem `json:"items"`
	TotalAmount     float64     `json:"total_amount"`
	ShippingAddress string      `json:"shipping_address"`
}

// OrderPaidEvent records a successful payment against the order.
type OrderPaidEvent struct {
	PaymentID     string  `json:"payment_id"`
	AmountPaid    float64 `json:"amount_paid"`
	PaymentMethod string  `json:"payment_method"`
}

// OrderShippedEvent records the handoff to the carrier.
type OrderShippedEvent struct {
	ShipmentID     string    `json:"shipment_id"`
	TrackingNumber string    `json:"tracking_number"`
	ShippedDate    time.Time `json:"shipped_date"`
}

// OrderCancelledEvent records a cancellation. RefundRequired is true when the
// order had already been paid.
type OrderCancelledEvent struct {
	Reason         string `json:"reason"`
	RefundRequired bool   `json:"refund_required"`
}

// KindOf maps a typed event payload to its kind string.
func KindOf(data interface{}) (string, error) {
	switch data.(type) {
	case OrderCreatedEvent:
		return OrderCreated, nil
	case OrderPaidEvent:
		return OrderPaid, nil
	case OrderShippedEvent:
		return OrderShipped, nil
	case OrderCancelledEvent:
		return OrderCancelled, nil
	default:
		return "", fmt.Errorf("unknown event payload type: %T", data)
	}
}

// DecodePayload decodes a stored payload into its typed form based on kind.
func DecodePayload(kind string, raw []byte) (interface{}, error) {
	switch kind {
	case OrderCreated:
		var data OrderCreatedEvent
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
		}
		return data, nil
	case OrderPaid:
		var data OrderPaidEvent
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
		}
		return data, nil
	case OrderShipped:
		var data OrderShippedEvent
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
		}
		return data, nil
	case OrderCancelled:
		var data OrderCancelledEvent
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown event kind: %s", kind)
	}
}
