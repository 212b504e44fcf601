package models

import "time"

// Order is the denormalized read-model row for an order. Version is the
// stream version of the last applied event; the projector uses it to dedupe
// and to detect gaps.
type Order struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	CustomerID      string    `gorm:"index;size:36" json:"customer_id"`
	Status          string    `gorm:"index;size:20" json:"status"`
	TotalAmount     float64   `gorm:"type:decimal(18,2)" json:"total_amount"`
	ShippingAddress string    `gorm:"size:500" json:"shipping_address"`
	Version         int       `json:"version"`
	PaymentID       *string   `gorm:"size:36" json:"payment_id,omitempty"`
	PaymentMethod   *string   `gorm:"size:50" json:"payment_method,omitempty"`
	ShipmentID      *string   `gorm:"size:36" json:"shipment_id,omitempty"`
	TrackingNumber  *string   `gorm:"size:100" json:"tracking_number,omitempty"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Items         []OrderItem          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	StatusHistory []OrderStatusHistory `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"status_history,omitempty"`
}

// OrderItem is a line item belonging to an order. Items are immutable after
// creation.
type OrderItem struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	OrderID     string  `gorm:"uniqueIndex:idx_order_items_order_product;size:36" json:"order_id"`
	ProductID   string  `gorm:"uniqueIndex:idx_order_items_order_product;size:36" json:"product_id"`
	ProductName string  `gorm:"size:200" json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `gorm:"type:decimal(18,2)" json:"unit_price"`
}

// OrderStatusHistory is the append-only audit trail of status transitions.
type OrderStatusHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OrderID   string    `gorm:"index:idx_status_history_order_time;size:36" json:"order_id"`
	Status    string    `gorm:"size:20" json:"status"`
	Timestamp time.Time `gorm:"index:idx_status_history_order_time" json:"timestamp"`
	Reason    *string   `gorm:"size:500" json:"reason,omitempty"`
}
