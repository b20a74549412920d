package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const maxOrderNumberAttempts = 5

// forwardTransitions is the usual order lifecycle. Admins may still set any
// status; moves outside this graph are logged and counted.
var forwardTransitions = map[string][]string{
	models.OrderStatusPending:    {models.OrderStatusConfirmed, models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusConfirmed:  {models.OrderStatusProcessing, models.OrderStatusShipped, models.OrderStatusCancelled, models.OrderStatusRefunded},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled, models.OrderStatusRefunded},
	models.OrderStatusShipped:    {models.OrderStatusDelivered, models.OrderStatusRefunded},
	models.OrderStatusDelivered:  {models.OrderStatusRefunded},
}

// OrderService handles order business logic
type OrderService struct {
	repo     store.Transactor
	guard    Guard
	gateway  PaymentGateway
	notifier Notifier
	pricing  models.Pricing
	cfg      config.BusinessConfig
	now      func() time.Time
	logger   *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewOrderService creates a new order service
func NewOrderService(
	repo store.Transactor,
	guard Guard,
	gateway PaymentGateway,
	notifier Notifier,
	cfg config.BusinessConfig,
) *OrderService {
	return &OrderService{
		repo:     repo,
		guard:    guard,
		gateway:  gateway,
		notifier: notifier,
		pricing:  pricingFrom(cfg),
		cfg:      cfg,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:   util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order from the cart
type CreateOrderRequest struct {
	AddressID        int64  `json:"address_id" binding:"required"`
	BillingAddressID int64  `json:"billing_address_id,omitempty"`
	CouponCode       string `json:"coupon_code,omitempty"`
	CustomerNotes    string `json:"customer_notes,omitempty"`
}

// UpdateStatusRequest is an admin status change
type UpdateStatusRequest struct {
	Status         string `json:"status" binding:"required"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	AdminNotes     string `json:"admin_notes,omitempty"`
}

// GenerateOrderNumber formats <prefix>-YYYYMMDD-NNNN with four random digits
func GenerateOrderNumber(prefix string, now time.Time, rng *rand.Rand) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, now.Format("20060102"), rng.Intn(10000))
}

// CreateOrder turns the user's cart into an order. Everything from the
// coupon increment to clearing the cart happens in one transaction.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderCreateLatency.Observe(time.Since(start).Seconds())
	}()

	release, err := s.lockCheckout(ctx, userID)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("checkout_in_progress").Inc()
		return nil, err
	}
	defer release()

	cart, err := s.repo.GetCartByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, fmt.Errorf("%w: cart is empty", ErrValidation)
	}
	if err != nil {
		return nil, err
	}

	shipping, err := s.repo.GetAddress(ctx, req.AddressID, userID)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("address").Inc()
		return nil, err
	}
	billing := shipping
	if req.BillingAddressID != 0 && req.BillingAddressID != req.AddressID {
		billing, err = s.repo.GetAddress(ctx, req.BillingAddressID, userID)
		if err != nil {
			util.OrdersFailedTotal.WithLabelValues("address").Inc()
			return nil, err
		}
	}

	order := &models.Order{
		UserID:        userID,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		CustomerNotes: req.CustomerNotes,
	}
	snapshotShipping(order, shipping)
	snapshotBilling(order, billing)

	err = s.repo.InTx(ctx, func(tx store.Repository) error {
		return s.createOrderTx(ctx, tx, cart.ID, req.CouponCode, order)
	})
	if err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues(createFailureReason(err)).Inc()
		s.logger.Warn("Order creation failed", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	return order, nil
}

func (s *OrderService) createOrderTx(ctx context.Context, tx store.Repository, cartID int64, couponCode string, order *models.Order) error {
	items, err := tx.GetCartItems(ctx, cartID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrValidation)
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	products, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return err
	}

	// Re-price every line against the locked rows
	for i := range items {
		product, ok := products[items[i].ProductID]
		if !ok || !product.IsActive {
			return fmt.Errorf("product %d: %w", items[i].ProductID, ErrNotFound)
		}
		items[i].UnitPrice = product.Price
		items[i].ProductName = product.Name
		items[i].ProductSKU = product.SKU
		items[i].Weight = product.Weight
	}

	totals := s.pricing.Totals(items)
	order.Subtotal = totals.Subtotal
	order.Tax = totals.Tax
	order.ShippingCost = totals.Shipping

	if couponCode != "" {
		coupon, err := tx.LockCouponByCode(ctx, couponCode)
		if errors.Is(err, store.ErrNotFound) {
			coupon, err = nil, nil
		}
		if err != nil {
			return err
		}

		discount, err := EvaluateCoupon(coupon, totals.Subtotal, s.now())
		if err != nil {
			util.CouponRejectionsTotal.WithLabelValues(couponRejectionReason(err)).Inc()
			return err
		}
		if err := tx.IncrementCouponUsage(ctx, coupon.ID); err != nil {
			if errors.Is(err, store.ErrCouponExhausted) {
				return ErrUsageLimitReached
			}
			return err
		}

		order.DiscountAmount = discount
		order.CouponCode = &coupon.Code
	}

	for _, item := range items {
		if stock := products[item.ProductID].Stock; stock < item.Quantity {
			util.StockConflictsTotal.Inc()
			return fmt.Errorf("%w: %s has %d left, %d requested",
				ErrInsufficientStock, item.ProductName, stock, item.Quantity)
		}
	}

	order.TotalAmount = totals.Total.Sub(order.DiscountAmount)

	if err := s.insertWithFreshNumber(ctx, tx, order); err != nil {
		return err
	}

	order.Items = make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		productID := item.ProductID
		orderItem := models.OrderItem{
			OrderID:       order.ID,
			ProductID:     &productID,
			ProductName:   item.ProductName,
			ProductSKU:    item.ProductSKU,
			ProductWeight: item.Weight,
			Price:         item.UnitPrice,
			Quantity:      item.Quantity,
		}
		if err := tx.CreateOrderItem(ctx, &orderItem); err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
		order.Items = append(order.Items, orderItem)
	}

	for _, item := range items {
		if err := tx.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			if errors.Is(err, store.ErrInsufficientStock) {
				util.StockConflictsTotal.Inc()
			}
			return err
		}
	}

	entry := models.OrderTimeline{OrderID: order.ID, Status: models.OrderStatusPending, Message: "Order created"}
	if err := tx.AddTimelineEntry(ctx, &entry); err != nil {
		return fmt.Errorf("failed to add timeline entry: %w", err)
	}
	order.Timeline = []models.OrderTimeline{entry}

	return tx.ClearCart(ctx, cartID)
}

// insertWithFreshNumber inserts order, regenerating its number on collision
func (s *OrderService) insertWithFreshNumber(ctx context.Context, tx store.Repository, order *models.Order) error {
	prefix := s.cfg.OrderNumberPrefix
	if !config.ValidOrderNumberPrefix(prefix) {
		prefix = config.DefaultOrderNumberPrefix
	}

	var err error
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		order.OrderNumber = GenerateOrderNumber(prefix, s.now(), s.rng)
		err = tx.CreateOrder(ctx, order)
		if !errors.Is(err, store.ErrDuplicateOrderNumber) {
			return err
		}
		util.OrderNumberCollisions.Inc()
		s.logger.Warn("Order number collision, regenerating",
			zap.String("order_number", order.OrderNumber),
			zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("failed to allocate order number after %d attempts: %w", maxOrderNumberAttempts, err)
}

// nextOrderNumber draws from the shared source; *rand.Rand is not safe for
// concurrent use
func (s *OrderService) nextOrderNumber(prefix string) string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return GenerateOrderNumber(prefix, s.now(), s.rng)
}

// ListOrders returns the user's orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	return s.repo.ListOrdersByUser(ctx, userID)
}

// GetOrder returns one of the user's orders with items and timeline
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.repo.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if err := loadOrderDetails(ctx, s.repo, order); err != nil {
		return nil, err
	}
	return order, nil
}

// ListAllOrders is the admin listing across all users
func (s *OrderService) ListAllOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListAllOrders")
	defer span.End()

	if filter.Status != "" && !models.ValidOrderStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	return s.repo.ListOrders(ctx, filter)
}

// GetOrderAdmin returns any order with items and timeline
func (s *OrderService) GetOrderAdmin(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrderAdmin")
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := loadOrderDetails(ctx, s.repo, order); err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateStatus applies an admin status change. Any known status is accepted.
func (s *OrderService) UpdateStatus(ctx context.Context, adminID, orderID int64, req *UpdateStatusRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus")
	defer span.End()

	if !models.ValidOrderStatus(req.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, req.Status)
	}

	var (
		order     *models.Order
		oldStatus string
	)
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		var err error
		order, err = tx.LockOrderByID(ctx, orderID)
		if err != nil {
			return err
		}

		oldStatus = order.Status
		order.Status = req.Status

		if req.TrackingNumber != "" {
			order.TrackingNumber = &req.TrackingNumber
		}
		if req.TrackingURL != "" {
			order.TrackingURL = &req.TrackingURL
		}
		if req.AdminNotes != "" {
			order.AdminNotes = req.AdminNotes
		}

		now := s.now()
		if req.Status == models.OrderStatusShipped && order.ShippedAt == nil {
			order.ShippedAt = &now
		}
		if req.Status == models.OrderStatusDelivered && order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}

		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		entry := models.OrderTimeline{
			OrderID:   order.ID,
			Status:    req.Status,
			Message:   fmt.Sprintf("Order status changed to %s", req.Status),
			CreatedBy: &adminID,
		}
		if err := tx.AddTimelineEntry(ctx, &entry); err != nil {
			return err
		}
		return loadOrderDetails(ctx, tx, order)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.StatusTransitionsTotal.WithLabelValues(req.Status).Inc()
	if !isForwardTransition(oldStatus, req.Status) {
		util.AnomalousTransitionsTotal.WithLabelValues(oldStatus, req.Status).Inc()
		s.logger.Warn("Anomalous order status transition",
			zap.Int64("order_id", order.ID),
			zap.String("from", oldStatus),
			zap.String("to", req.Status),
			zap.Int64("admin_id", adminID))
	}

	s.logger.Info("Order status updated",
		zap.Int64("order_id", order.ID),
		zap.String("from", oldStatus),
		zap.String("to", req.Status))

	if req.Status == models.OrderStatusShipped && oldStatus != models.OrderStatusShipped {
		notify(ctx, s.notifier, s.logger, models.NotificationOrderShipped, order)
	}

	return order, nil
}

// CancelOrder cancels a pending or confirmed order, restores stock and
// refunds a captured payment in full
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
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
		if order.UserID != userID {
			return fmt.Errorf("order %d: %w", orderID, ErrNotFound)
		}
		if !order.CanCancel() {
			return fmt.Errorf("%w: order is %s", ErrCannotCancel, order.Status)
		}

		items, err := tx.GetOrderItems(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := restoreStock(ctx, tx, items); err != nil {
			return err
		}

		message := "Order cancelled by customer"
		if order.IsPaid() {
			if order.GatewayPaymentID == nil {
				return fmt.Errorf("%w: paid order has no payment id", ErrValidation)
			}
			refund, err := s.gateway.Refund(ctx, *order.GatewayPaymentID, nil)
			if err != nil {
				util.RefundsTotal.WithLabelValues("failed").Inc()
				return err
			}
			issued = refund
			order.PaymentStatus = models.PaymentStatusRefunded
			message = fmt.Sprintf("Order cancelled by customer, refund %s issued", refund.ID)
		}

		order.Status = models.OrderStatusCancelled
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}

		entry := models.OrderTimeline{OrderID: order.ID, Status: models.OrderStatusCancelled, Message: message, CreatedBy: &userID}
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

	if issued != nil {
		util.RefundsTotal.WithLabelValues("success").Inc()
	}
	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled", zap.Int64("order_id", order.ID), zap.Int64("user_id", userID))
	return order, nil
}

// lockCheckout takes the per-user checkout lock. A guard outage doesn't block
// checkout; the transaction still protects stock and coupons.
func (s *OrderService) lockCheckout(ctx context.Context, userID int64) (func(), error) {
	noop := func() {}
	if s.guard == nil {
		return noop, nil
	}

	lock, err := s.guard.AcquireLock(ctx, fmt.Sprintf("checkout:%d", userID), s.cfg.CheckoutLockTTL)
	if err != nil {
		s.logger.Warn("Checkout lock unavailable, continuing without it", zap.Error(err))
		return noop, nil
	}
	if lock == nil {
		return nil, ErrCheckoutInProgress
	}

	return func() {
		if err := s.guard.ReleaseLock(context.Background(), lock); err != nil {
			s.logger.Warn("Failed to release checkout lock", zap.Int64("user_id", userID), zap.Error(err))
		}
	}, nil
}

// restoreStock locks products in ascending id order and puts quantities back.
// Lines whose product was deleted are skipped.
func restoreStock(ctx context.Context, tx store.Repository, items []models.OrderItem) error {
	qty := make(map[int64]int)
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if item.ProductID == nil {
			continue
		}
		if _, seen := qty[*item.ProductID]; !seen {
			ids = append(ids, *item.ProductID)
		}
		qty[*item.ProductID] += item.Quantity
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if _, err := tx.LockProducts(ctx, ids); err != nil {
		return err
	}
	for _, id := range ids {
		if err := tx.IncrementStock(ctx, id, qty[id]); err != nil {
			return fmt.Errorf("failed to restore stock for product %d: %w", id, err)
		}
	}
	return nil
}

func isForwardTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func createFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidCoupon), errors.Is(err, ErrCouponExpired),
		errors.Is(err, ErrUsageLimitReached), errors.Is(err, ErrMinimumPurchaseNotMet):
		return "coupon"
	default:
		return "db_error"
	}
}

func snapshotShipping(o *models.Order, a *models.Address) {
	o.ShippingName = a.FullName
	o.ShippingPhone = a.Phone
	o.ShippingAddressLine1 = a.AddressLine1
	o.ShippingAddressLine2 = a.AddressLine2
	o.ShippingCity = a.City
	o.ShippingState = a.State
	o.ShippingPincode = a.Pincode
}

func snapshotBilling(o *models.Order, a *models.Address) {
	o.BillingName = a.FullName
	o.BillingPhone = a.Phone
	o.BillingAddressLine1 = a.AddressLine1
	o.BillingAddressLine2 = a.AddressLine2
	o.BillingCity = a.City
	o.BillingState = a.State
	o.BillingPincode = a.Pincode
}
