package service

import (
	"context"
	"fmt"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Guard is the Redis side of the workflow: short-lived locks and replay keys.
// The database transaction stays authoritative; the guard only short-circuits.
type Guard interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*redisclient.Lock, error)
	ReleaseLock(ctx context.Context, lock *redisclient.Lock) error
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
}

// PaymentGateway is implemented by *payment.Gateway
type PaymentGateway interface {
	Configured() bool
	KeyID() string
	Currency() string
	CreateOrder(ctx context.Context, amount decimal.Decimal, receipt string, notes map[string]string) (*payment.GatewayOrder, error)
	VerifySignature(orderID, paymentID, signature string) bool
	Refund(ctx context.Context, paymentID string, amount *decimal.Decimal) (*payment.Refund, error)
}

// Notifier receives order events after the transaction that caused them commits
type Notifier interface {
	Notify(ctx context.Context, kind string, order *models.Order) error
}

var _ PaymentGateway = (*payment.Gateway)(nil)

func pricingFrom(cfg config.BusinessConfig) models.Pricing {
	return models.Pricing{
		TaxRate:               cfg.TaxRate,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		FlatShippingFee:       cfg.FlatShippingFee,
	}
}

// notify is fire-and-forget: failures are logged, never returned
func notify(ctx context.Context, n Notifier, logger *zap.Logger, kind string, order *models.Order) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, kind, order); err != nil {
		logger.Error("Failed to dispatch order notification",
			zap.String("kind", kind),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

// loadOrderDetails fills the items and timeline of order
func loadOrderDetails(ctx context.Context, repo store.Repository, order *models.Order) error {
	items, err := repo.GetOrderItems(ctx, order.ID)
	if err != nil {
		return err
	}
	timeline, err := repo.GetTimeline(ctx, order.ID)
	if err != nil {
		return err
	}
	order.Items = items
	order.Timeline = timeline
	return nil
}

// recordUncommittedRefund is called when a transaction that already issued
// refund did not commit. The money has left the gateway, so the refund is
// written to the order timeline outside the transaction for reconciliation.
func recordUncommittedRefund(ctx context.Context, repo store.Repository, logger *zap.Logger, order *models.Order, status string, refund *payment.Refund, cause error) {
	util.RefundsTotal.WithLabelValues("unrecorded").Inc()
	logger.Error("Refund issued but order update rolled back",
		zap.Int64("order_id", order.ID),
		zap.String("refund_id", refund.ID),
		zap.Int64("amount", refund.Amount),
		zap.Error(cause))

	entry := models.OrderTimeline{
		OrderID: order.ID,
		Status:  status,
		Message: fmt.Sprintf("Refund %s of %s issued but not recorded: %v",
			refund.ID, decimal.New(refund.Amount, -2).StringFixed(2), cause),
	}
	if err := repo.AddTimelineEntry(context.WithoutCancel(ctx), &entry); err != nil {
		logger.Error("Failed to record uncommitted refund",
			zap.Int64("order_id", order.ID),
			zap.String("refund_id", refund.ID),
			zap.Error(err))
	}
}
