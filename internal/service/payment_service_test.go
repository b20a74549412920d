package service

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payOrder opens a payment session for order and verifies a correctly signed callback
func payOrder(t *testing.T, f *checkoutFixture, order *models.Order) *VerifyResult {
	t.Helper()
	ctx := context.Background()

	session, err := f.payments.CreatePayment(ctx, buyerID, order.ID)
	require.NoError(t, err)

	result, err := f.payments.VerifyPayment(ctx, buyerID, signedCallback(session.GatewayOrderID, "pay_1"))
	require.NoError(t, err)
	require.True(t, result.Success)
	return result
}

func signedCallback(gatewayOrderID, paymentID string) *VerifyPaymentRequest {
	return &VerifyPaymentRequest{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        payment.Sign(testSecret, gatewayOrderID, paymentID),
	}
}

func TestCreatePayment(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	order := placeOrder(t, f)

	session, err := f.payments.CreatePayment(context.Background(), buyerID, order.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(82364), session.Amount)
	assert.Equal(t, "INR", session.Currency)
	assert.Equal(t, "rzp_test", session.KeyID)
	assert.Equal(t, order.OrderNumber, session.OrderNumber)

	stored := f.repo.orders[order.ID]
	require.NotNil(t, stored.GatewayOrderID)
	assert.Equal(t, session.GatewayOrderID, *stored.GatewayOrderID)
}

func TestCreatePaymentRejectsUnpayableOrders(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	ctx := context.Background()
	order := placeOrder(t, f)

	_, err := f.payments.CreatePayment(ctx, 99, order.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	payOrder(t, f, order)
	_, err = f.payments.CreatePayment(ctx, buyerID, order.ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreatePaymentGatewayFailureLeavesOrderUntouched(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	order := placeOrder(t, f)
	f.api.fail = errors.New("gateway down")

	_, err := f.payments.CreatePayment(context.Background(), buyerID, order.ID)
	assert.ErrorIs(t, err, payment.ErrGatewayCallFailed)
	assert.Nil(t, f.repo.orders[order.ID].GatewayOrderID)
}

func TestPaymentsWithoutGatewayCredentials(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	order := placeOrder(t, f)
	svc := NewPaymentService(f.repo, nil, payment.NewGateway(config.PaymentConfig{}), f.notifier, testBusinessConfig())

	_, err := svc.CreatePayment(context.Background(), buyerID, order.ID)
	assert.ErrorIs(t, err, payment.ErrGatewayNotConfigured)

	_, err = svc.VerifyPayment(context.Background(), buyerID, signedCallback("order_gw1", "pay_1"))
	assert.ErrorIs(t, err, payment.ErrGatewayNotConfigured)
}

func TestVerifyPaymentMarksOrderPaid(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	order := placeOrder(t, f)

	result := payOrder(t, f, order)

	assert.False(t, result.Replayed)
	assert.Equal(t, "Payment verified successfully.", result.Message)
	assert.Equal(t, models.PaymentStatusPaid, result.Order.PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, result.Order.Status)
	require.NotNil(t, result.Order.GatewayPaymentID)
	assert.Equal(t, "pay_1", *result.Order.GatewayPaymentID)

	timeline := f.repo.timelineFor(order.ID)
	require.Len(t, timeline, 2)
	assert.Equal(t, "Payment received", timeline[1].Message)
	assert.Equal(t, 1, f.notifier.count(models.NotificationOrderConfirmed))
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	order := placeOrder(t, f)
	first := payOrder(t, f, order)

	again, err := f.payments.VerifyPayment(context.Background(), buyerID,
		signedCallback(*first.Order.GatewayOrderID, "pay_1"))
	require.NoError(t, err)

	assert.True(t, again.Success)
	assert.True(t, again.Replayed)
	assert.Equal(t, "Payment already verified.", again.Message)
	assert.Len(t, f.repo.timelineFor(order.ID), 2)
	assert.Equal(t, 1, f.notifier.count(models.NotificationOrderConfirmed))
}

func TestVerifyPaymentReplayServedFromRedis(t *testing.T) {
	guard, mr := newRedisGuard(t)
	f := newCheckoutFixture(t, guard)
	order := placeOrder(t, f)
	first := payOrder(t, f, order)

	stored, err := mr.Get("idempotency:payment:pay_1")
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(order.ID, 10), stored)

	txBefore := f.repo.txCount
	again, err := f.payments.VerifyPayment(context.Background(), buyerID,
		signedCallback(*first.Order.GatewayOrderID, "pay_1"))
	require.NoError(t, err)

	assert.True(t, again.Replayed)
	assert.Equal(t, txBefore, f.repo.txCount)
	assert.Equal(t, 1, f.notifier.count(models.NotificationOrderConfirmed))
}

func TestVerifyPaymentBadSignature(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	ctx := context.Background()
	order := placeOrder(t, f)

	session, err := f.payments.CreatePayment(ctx, buyerID, order.ID)
	require.NoError(t, err)

	req := signedCallback(session.GatewayOrderID, "pay_1")
	req.Signature = "deadbeef"

	result, err := f.payments.VerifyPayment(ctx, buyerID, req)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "Payment verification failed.", result.Message)
	assert.Equal(t, models.PaymentStatusFailed, f.repo.orders[order.ID].PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, f.repo.orders[order.ID].Status)
	assert.Len(t, f.repo.timelineFor(order.ID), 1)
	assert.Equal(t, 0, f.notifier.count(models.NotificationOrderConfirmed))

	// a failed attempt can still be followed by a good one
	result, err = f.payments.VerifyPayment(ctx, buyerID, signedCallback(session.GatewayOrderID, "pay_2"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.PaymentStatusPaid, f.repo.orders[order.ID].PaymentStatus)
}

func TestVerifyPaymentBadSignatureNeverDowngradesPaidOrder(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	order := placeOrder(t, f)
	first := payOrder(t, f, order)

	req := signedCallback(*first.Order.GatewayOrderID, "pay_1")
	req.Signature = "forged"

	result, err := f.payments.VerifyPayment(context.Background(), buyerID, req)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, models.PaymentStatusPaid, f.repo.orders[order.ID].PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, f.repo.orders[order.ID].Status)
}

func TestVerifyPaymentUnknownOrder(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	ctx := context.Background()
	order := placeOrder(t, f)

	_, err := f.payments.VerifyPayment(ctx, buyerID, signedCallback("order_missing", "pay_1"))
	assert.ErrorIs(t, err, ErrNotFound)

	session, err := f.payments.CreatePayment(ctx, buyerID, order.ID)
	require.NoError(t, err)
	_, err = f.payments.VerifyPayment(ctx, 99, signedCallback(session.GatewayOrderID, "pay_1"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, models.PaymentStatusPending, f.repo.orders[order.ID].PaymentStatus)
}

func TestRefundOrderPartial(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	order := placeOrder(t, f)
	payOrder(t, f, order)

	refunded, err := f.payments.RefundOrder(context.Background(), adminID, order.ID, &RefundRequest{Amount: decPtr("100.50")})
	require.NoError(t, err)

	assert.Equal(t, []int{10050}, f.api.refunds)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.PaymentStatus)
	assert.Equal(t, models.OrderStatusRefunded, refunded.Status)

	timeline := f.repo.timelineFor(order.ID)
	last := timeline[len(timeline)-1]
	assert.Equal(t, "Refund of 100.50 issued (rfnd_1)", last.Message)
	require.NotNil(t, last.CreatedBy)
	assert.Equal(t, adminID, *last.CreatedBy)
}

func TestRefundOrderRecordsRefundWhenUpdateFails(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	order := placeOrder(t, f)
	payOrder(t, f, order)

	f.repo.failUpdateOrder = errors.New("connection reset")
	_, err := f.payments.RefundOrder(context.Background(), adminID, order.ID, &RefundRequest{Amount: decPtr("100.50")})
	require.Error(t, err)
	f.repo.failUpdateOrder = nil

	assert.Equal(t, []int{10050}, f.api.refunds)
	assert.Equal(t, models.PaymentStatusPaid, f.repo.orders[order.ID].PaymentStatus)

	timeline := f.repo.timelineFor(order.ID)
	last := timeline[len(timeline)-1]
	assert.Equal(t, "Refund rfnd_1 of 100.50 issued but not recorded: connection reset", last.Message)
}

func TestRefundOrderRules(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	ctx := context.Background()
	order := placeOrder(t, f)

	_, err := f.payments.RefundOrder(ctx, adminID, order.ID, &RefundRequest{})
	assert.ErrorIs(t, err, ErrValidation)

	payOrder(t, f, order)

	_, err = f.payments.RefundOrder(ctx, adminID, order.ID, &RefundRequest{Amount: decPtr("1000")})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.payments.RefundOrder(ctx, adminID, order.ID, &RefundRequest{Amount: decPtr("0")})
	assert.ErrorIs(t, err, ErrValidation)

	f.api.fail = errors.New("gateway down")
	_, err = f.payments.RefundOrder(ctx, adminID, order.ID, &RefundRequest{})
	assert.ErrorIs(t, err, payment.ErrGatewayCallFailed)
	assert.Equal(t, models.PaymentStatusPaid, f.repo.orders[order.ID].PaymentStatus)
	assert.Empty(t, f.api.refunds)
}

func TestVerifyPaymentAfterCancelRefundsInsteadOfConfirming(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	ctx := context.Background()
	order := placeOrder(t, f)

	session, err := f.payments.CreatePayment(ctx, buyerID, order.ID)
	require.NoError(t, err)
	_, err = f.orders.CancelOrder(ctx, buyerID, order.ID)
	require.NoError(t, err)
	require.Equal(t, 10, f.repo.products[1].Stock)

	result, err := f.payments.VerifyPayment(ctx, buyerID, signedCallback(session.GatewayOrderID, "pay_late"))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Order is cancelled; the payment has been refunded.", result.Message)

	stored := f.repo.orders[order.ID]
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Equal(t, models.PaymentStatusRefunded, stored.PaymentStatus)
	require.NotNil(t, stored.GatewayPaymentID)
	assert.Equal(t, "pay_late", *stored.GatewayPaymentID)
	assert.Equal(t, 10, f.repo.products[1].Stock)
	assert.Equal(t, []int{82364}, f.api.refunds)
	assert.Zero(t, f.notifier.count(models.NotificationOrderConfirmed))

	timeline := f.repo.timelineFor(order.ID)
	last := timeline[len(timeline)-1]
	assert.Equal(t, "Payment received after order was cancelled, refund rfnd_1 issued", last.Message)

	// a repeated callback does not refund twice
	again, err := f.payments.VerifyPayment(ctx, buyerID, signedCallback(session.GatewayOrderID, "pay_late"))
	require.NoError(t, err)
	assert.False(t, again.Success)
	assert.Equal(t, "Order is cancelled; payment was not applied.", again.Message)
	assert.Len(t, f.api.refunds, 1)
}

func TestVerifyPaymentBadSignatureOnCancelledOrder(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	ctx := context.Background()
	order := placeOrder(t, f)

	session, err := f.payments.CreatePayment(ctx, buyerID, order.ID)
	require.NoError(t, err)
	_, err = f.orders.CancelOrder(ctx, buyerID, order.ID)
	require.NoError(t, err)

	req := signedCallback(session.GatewayOrderID, "pay_late")
	req.Signature = "forged"
	result, err := f.payments.VerifyPayment(ctx, buyerID, req)
	require.NoError(t, err)
	assert.False(t, result.Success)

	stored := f.repo.orders[order.ID]
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
	assert.Empty(t, f.api.refunds)
}
