package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes keyed events to the broker
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderNotification publishes an ORDER_NOTIFICATION event keyed by order
func (ep *EventPublisher) PublishOrderNotification(ctx context.Context, event *models.OrderNotificationEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// Notify hands a notification for order to the broker
func (ep *EventPublisher) Notify(ctx context.Context, kind string, order *models.Order) error {
	return ep.PublishOrderNotification(ctx, &models.OrderNotificationEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderNotification,
			Timestamp: time.Now(),
		},
		Kind:        kind,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
	})
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderNotification func(context.Context, *models.OrderNotificationEvent) error
	logger              *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderNotification registers a handler for ORDER_NOTIFICATION events
func (eh *EventHandler) OnOrderNotification(handler func(context.Context, *models.OrderNotificationEvent) error) {
	eh.onOrderNotification = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderNotification:
		if eh.onOrderNotification != nil {
			var event models.OrderNotificationEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderNotification event: %w", err)
			}
			return eh.onOrderNotification(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
