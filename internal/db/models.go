package db

import (
	"time"

	"github.com/google/uuid"
)

// Order is a row in the storefront's orders table. The alert pipeline
// only ever reads orders; the checkout flow owns all writes.
type Order struct {
	ID           string    `json:"id"`
	OrderNumber  string    `json:"order_number"`
	CustomerName string    `json:"customer_name"`
	TotalAmount  float64   `json:"total_amount"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Order lifecycle statuses (owned by the checkout flow).
const (
	OrderStatusPending        = "pending"
	OrderStatusPaymentPending = "payment_pending"
	OrderStatusPaid           = "paid"
	OrderStatusCancelled      = "cancelled"
)

// Category classifies a notification record. The set is closed; unknown
// categories resolve to global defaults at the settings layer.
type Category string

const (
	CategoryOrderCreated     Category = "order_created"
	CategoryOrderPaid        Category = "order_paid"
	CategoryOrderUpdated     Category = "order_updated"
	CategoryOrderCancelled   Category = "order_cancelled"
	CategoryPaymentFailed    Category = "payment_failed"
	CategoryPaymentCompleted Category = "payment_completed"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryOrderCreated,
		CategoryOrderPaid,
		CategoryOrderUpdated,
		CategoryOrderCancelled,
		CategoryPaymentFailed,
		CategoryPaymentCompleted,
	}
}

// Valid reports whether c is one of the six known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryOrderCreated, CategoryOrderPaid, CategoryOrderUpdated,
		CategoryOrderCancelled, CategoryPaymentFailed, CategoryPaymentCompleted:
		return true
	}
	return false
}

// Priority bounds. Five ordered tiers; 5 rings hardest.
const (
	PriorityMin = 1
	PriorityMax = 5
)

// NotificationRecord is the persisted bookkeeping for one alert. OrderID is a
// weak reference: the record outlives deletion of the order it points at.
// Records are created exactly once per (order, category) pair and are never
// deleted by this service.
type NotificationRecord struct {
	ID             uuid.UUID         `json:"id"`
	OrderID        *string           `json:"order_id,omitempty"`
	Category       Category          `json:"category"`
	Priority       int               `json:"priority"`
	Acknowledged   bool              `json:"acknowledged"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
}
