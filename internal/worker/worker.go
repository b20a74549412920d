package worker

import (
	"context"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Dispatcher sends the email for one order notification
type Dispatcher interface {
	Dispatch(ctx context.Context, kind string, orderID int64) error
}

// NotificationWorker consumes order notification events and sends emails
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	dispatcher   Dispatcher
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, dispatcher Dispatcher) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		dispatcher:   dispatcher,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderNotification(w.handleNotification)
	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// handleNotification never fails the message: a failed email is already in
// the email log and redelivery would send duplicates
func (w *NotificationWorker) handleNotification(ctx context.Context, event *models.OrderNotificationEvent) error {
	if err := w.dispatcher.Dispatch(ctx, event.Kind, event.OrderID); err != nil {
		w.logger.Error("Notification dispatch failed",
			zap.String("event_id", event.EventID),
			zap.String("kind", event.Kind),
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
	}
	return nil
}
