package models

import "time"

// Event types
const (
	EventTypeOrderNotification = "ORDER_NOTIFICATION"
)

// Notification kinds carried by order notification events
const (
	NotificationOrderConfirmed = "order_confirmed"
	NotificationOrderShipped   = "order_shipped"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderNotificationEvent is published after an order transition that
// should reach the customer by email
type OrderNotificationEvent struct {
	BaseEvent
	Kind        string `json:"kind"`
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	UserID      int64  `json:"user_id"`
	Status      string `json:"status"`
}
