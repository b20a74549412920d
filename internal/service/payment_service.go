package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentService drives the gateway side of an order
type PaymentService struct {
	repo      store.Transactor
	guard     Guard
	gateway   PaymentGateway
	notifier  Notifier
	replayTTL time.Duration
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	repo store.Transactor,
	guard Guard,
	gateway PaymentGateway,
	notifier Notifier,
	cfg config.BusinessConfig,
) *PaymentService {
	return &PaymentService{
		repo:      repo,
		guard:     guard,
		gateway:   gateway,
		notifier:  notifier,
		replayTTL: cfg.PaymentReplayTTL,
		logger:    util.GetLogger(),
	}
}

// CreatePaymentRequest asks for a gateway payment session for an order
type CreatePaymentRequest struct {
	OrderID int64 `json:"order_id" binding:"required"`
}

// PaymentSession is what the browser checkout needs to collect payment
type PaymentSession struct {
	GatewayOrderID string `json:"order_id"`
	OrderNumber    string `json:"order_number"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"key_id"`
}

// VerifyPaymentRequest is the gateway callback the client relays
type VerifyPaymentRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id" binding:"required"`
	GatewayPaymentID string `json:"razorpay_payment_id" binding:"required"`
	Signature        string `json:"razorpay_signature" binding:"required"`
}

// VerifyResult is the structured outcome of a verification. A bad signature
// is a normal outcome with Success false, not an error.
type VerifyResult struct {
	Success  bool          `json:"success"`
	Replayed bool          `json:"replayed,omitempty"`
	Message  string        `json:"message"`
	Order    *models.Order `json:"order,omitempty"`
}

// RefundRequest is an admin refund; a nil amount refunds in full
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// CreatePayment registers the order with the gateway and stores the gateway order id
func (s *PaymentService) CreatePayment(ctx context.Context, userID, orderID int64) (*PaymentSession, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePayment")
	defer span.End()

	order, err := s.repo.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if err := payable(order); err != nil {
		return nil, err
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, order.TotalAmount, order.OrderNumber,
		map[string]string{"order_id": strconv.FormatInt(order.ID, 10)})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	err = s.repo.InTx(ctx, func(tx store.Repository) error {
		locked, err := tx.LockOrderByID(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := payable(locked); err != nil {
			return err
		}
		locked.GatewayOrderID = &gwOrder.ID
		return tx.UpdateOrder(ctx, locked)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Payment session created",
		zap.Int64("order_id", order.ID),
		zap.String("gateway_order_id", gwOrder.ID))

	return &PaymentSession{
		GatewayOrderID: gwOrder.ID,
		OrderNumber:    order.OrderNumber,
		Amount:         gwOrder.Amount,
		Currency:       gwOrder.Currency,
		KeyID:          s.gateway.KeyID(),
	}, nil
}

// VerifyPayment checks the gateway signature and marks the order paid.
// Re-verifying an already paid order succeeds without side effects. A valid
// payment for a cancelled or refunded order is refunded, never confirmed.
func (s *PaymentService) VerifyPayment(ctx context.Context, userID int64, req *VerifyPaymentRequest) (*VerifyResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyPayment")
	defer span.End()

	if !s.gateway.Configured() {
		return nil, payment.ErrGatewayNotConfigured
	}

	valid := s.gateway.VerifySignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature)

	if valid {
		if result := s.checkReplay(ctx, userID, req); result != nil {
			util.PaymentVerificationsTotal.WithLabelValues("replayed").Inc()
			return result, nil
		}
	}

	var (
		result     = &VerifyResult{}
		closed     bool
		lateRefund *payment.Refund
	)
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		order, err := tx.LockOrderByGatewayID(ctx, userID, req.GatewayOrderID)
		if err != nil {
			return err
		}
		result.Order = order

		if order.IsPaid() {
			// A paid order is never downgraded by a later bad callback
			result.Success = valid
			result.Replayed = valid
			return nil
		}

		if order.Status == models.OrderStatusCancelled || order.Status == models.OrderStatusRefunded {
			if !valid {
				return nil
			}
			closed = true
			if order.PaymentStatus == models.PaymentStatusRefunded {
				return nil
			}
			// Captured after the order was closed; its stock is already restored
			lateRefund, err = s.gateway.Refund(ctx, req.GatewayPaymentID, nil)
			if err != nil {
				util.RefundsTotal.WithLabelValues("failed").Inc()
				return err
			}
			order.GatewayPaymentID = &req.GatewayPaymentID
			order.GatewaySignature = &req.Signature
			order.PaymentStatus = models.PaymentStatusRefunded
			if err := tx.UpdateOrder(ctx, order); err != nil {
				return err
			}
			entry := models.OrderTimeline{
				OrderID: order.ID,
				Status:  order.Status,
				Message: fmt.Sprintf("Payment received after order was %s, refund %s issued", order.Status, lateRefund.ID),
			}
			return tx.AddTimelineEntry(ctx, &entry)
		}

		if !valid {
			order.PaymentStatus = models.PaymentStatusFailed
			return tx.UpdateOrder(ctx, order)
		}

		order.GatewayPaymentID = &req.GatewayPaymentID
		order.GatewaySignature = &req.Signature
		order.PaymentStatus = models.PaymentStatusPaid
		order.Status = models.OrderStatusConfirmed
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		entry := models.OrderTimeline{OrderID: order.ID, Status: models.OrderStatusConfirmed, Message: "Payment received"}
		if err := tx.AddTimelineEntry(ctx, &entry); err != nil {
			return err
		}
		result.Success = true
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		if lateRefund != nil {
			recordUncommittedRefund(ctx, s.repo, s.logger, result.Order, result.Order.Status, lateRefund, err)
		}
		return nil, err
	}

	if err := loadOrderDetails(ctx, s.repo, result.Order); err != nil {
		s.logger.Warn("Failed to load order details", zap.Int64("order_id", result.Order.ID), zap.Error(err))
	}

	switch {
	case closed:
		result.Message = fmt.Sprintf("Order is %s; payment was not applied.", result.Order.Status)
		if lateRefund != nil {
			result.Message = fmt.Sprintf("Order is %s; the payment has been refunded.", result.Order.Status)
			util.RefundsTotal.WithLabelValues("success").Inc()
		}
		util.PaymentVerificationsTotal.WithLabelValues("order_closed").Inc()
		s.logger.Warn("Payment verified for closed order",
			zap.Int64("order_id", result.Order.ID),
			zap.String("status", result.Order.Status),
			zap.String("gateway_payment_id", req.GatewayPaymentID),
			zap.Bool("refunded", lateRefund != nil))
	case result.Replayed:
		result.Message = "Payment already verified."
		util.PaymentVerificationsTotal.WithLabelValues("replayed").Inc()
		s.rememberPayment(ctx, req.GatewayPaymentID, result.Order.ID)
	case result.Success:
		result.Message = "Payment verified successfully."
		util.PaymentVerificationsTotal.WithLabelValues("verified").Inc()
		s.logger.Info("Payment verified",
			zap.Int64("order_id", result.Order.ID),
			zap.String("gateway_payment_id", req.GatewayPaymentID))
		s.rememberPayment(ctx, req.GatewayPaymentID, result.Order.ID)
		notify(ctx, s.notifier, s.logger, models.NotificationOrderConfirmed, result.Order)
	default:
		result.Message = "Payment verification failed."
		util.PaymentVerificationsTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("Payment signature mismatch",
			zap.Int64("order_id", result.Order.ID),
			zap.String("gateway_order_id", req.GatewayOrderID))
	}

	return result, nil
}

// RefundOrder refunds a paid order through the gateway. Amount nil means full.
func (s *PaymentService) RefundOrder(ctx context.Context, adminID, orderID int64, req *RefundRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RefundOrder")
	defer span.End()

	var (
		order    *models.Order
		lockedAs string
		issued   *payment.Refund
	)
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		var err error
		order, err = tx.LockOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		lockedAs = order.Status
		if !order.IsPaid() || order.GatewayPaymentID == nil {
			return fmt.Errorf("%w: order %s is not paid", ErrValidation, order.OrderNumber)
		}
		if req.Amount != nil {
			if !req.Amount.IsPositive() || req.Amount.GreaterThan(order.TotalAmount) {
				return fmt.Errorf("%w: refund amount must be between 0 and %s",
					ErrValidation, order.TotalAmount.StringFixed(2))
			}
		}

		refund, err := s.gateway.Refund(ctx, *order.GatewayPaymentID, req.Amount)
		if err != nil {
			util.RefundsTotal.WithLabelValues("failed").Inc()
			return err
		}
		issued = refund

		order.PaymentStatus = models.PaymentStatusRefunded
		order.Status = models.OrderStatusRefunded
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		amount := order.TotalAmount
		if req.Amount != nil {
			amount = *req.Amount
		}
		entry := models.OrderTimeline{
			OrderID:   order.ID,
			Status:    models.OrderStatusRefunded,
			Message:   fmt.Sprintf("Refund of %s issued (%s)", amount.StringFixed(2), refund.ID),
			CreatedBy: &adminID,
		}
		if err := tx.AddTimelineEntry(ctx, &entry); err != nil {
			return err
		}
		return loadOrderDetails(ctx, tx, order)
	})
	if err != nil {
		util.RecordError(span, err)
		if issued != nil {
			recordUncommittedRefund(ctx, s.repo, s.logger, order, lockedAs, issued, err)
		}
		return nil, err
	}

	util.RefundsTotal.WithLabelValues("success").Inc()
	s.logger.Info("Order refunded", zap.Int64("order_id", order.ID), zap.Int64("admin_id", adminID))
	return order, nil
}

// checkReplay answers a repeated valid callback from the replay key without
// touching the database row lock
func (s *PaymentService) checkReplay(ctx context.Context, userID int64, req *VerifyPaymentRequest) *VerifyResult {
	if s.guard == nil {
		return nil
	}

	val, err := s.guard.GetIdempotencyKey(ctx, replayKey(req.GatewayPaymentID))
	if err != nil || val == "" {
		return nil
	}
	orderID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil
	}

	order, err := s.repo.GetOrderForUser(ctx, orderID, userID)
	if err != nil || !order.IsPaid() || order.GatewayOrderID == nil || *order.GatewayOrderID != req.GatewayOrderID {
		return nil
	}
	if err := loadOrderDetails(ctx, s.repo, order); err != nil {
		return nil
	}

	return &VerifyResult{Success: true, Replayed: true, Message: "Payment already verified.", Order: order}
}

func (s *PaymentService) rememberPayment(ctx context.Context, paymentID string, orderID int64) {
	if s.guard == nil {
		return
	}
	if err := s.guard.SetIdempotencyKey(ctx, replayKey(paymentID), strconv.FormatInt(orderID, 10), s.replayTTL); err != nil {
		s.logger.Warn("Failed to store payment replay key", zap.Error(err))
	}
}

func replayKey(paymentID string) string {
	return "payment:" + paymentID
}

func payable(order *models.Order) error {
	if order.IsPaid() {
		return fmt.Errorf("%w: order is already paid", ErrValidation)
	}
	if order.Status == models.OrderStatusCancelled || order.Status == models.OrderStatusRefunded {
		return fmt.Errorf("%w: order is %s", ErrValidation, order.Status)
	}
	return nil
}
