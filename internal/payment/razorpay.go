package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"checkout-service/config"
	"checkout-service/internal/util"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrGatewayNotConfigured is returned when key id or secret is missing
	ErrGatewayNotConfigured = errors.New("payment gateway not configured")
	// ErrGatewayCallFailed wraps any transport or API error from the gateway
	ErrGatewayCallFailed = errors.New("payment gateway call failed")
)

// API is the subset of the gateway's REST surface the service calls
type API interface {
	CreateOrder(data map[string]interface{}) (map[string]interface{}, error)
	FetchPayment(paymentID string) (map[string]interface{}, error)
	Refund(paymentID string, amount int, data map[string]interface{}) (map[string]interface{}, error)
}

type razorpayAPI struct {
	client *razorpay.Client
}

func (r *razorpayAPI) CreateOrder(data map[string]interface{}) (map[string]interface{}, error) {
	return r.client.Order.Create(data, nil)
}

func (r *razorpayAPI) FetchPayment(paymentID string) (map[string]interface{}, error) {
	return r.client.Payment.Fetch(paymentID, nil, nil)
}

func (r *razorpayAPI) Refund(paymentID string, amount int, data map[string]interface{}) (map[string]interface{}, error) {
	return r.client.Payment.Refund(paymentID, amount, data, nil)
}

// GatewayOrder is the gateway-side order a client-side checkout pays against
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
}

// Refund describes a refund accepted by the gateway
type Refund struct {
	ID     string
	Amount int64
	Status string
}

type Gateway struct {
	keyID     string
	keySecret string
	currency  string
	timeout   time.Duration
	api       API
	logger    *zap.Logger
}

// NewGateway builds a gateway client. Missing credentials are tolerated here;
// every call then fails with ErrGatewayNotConfigured.
func NewGateway(cfg config.PaymentConfig) *Gateway {
	var api API
	if cfg.KeyID != "" && cfg.KeySecret != "" {
		client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
		client.SetTimeout(int16(gatewayTimeout(cfg).Seconds()))
		api = &razorpayAPI{client: client}
	}
	return NewGatewayWithAPI(cfg, api)
}

// NewGatewayWithAPI builds a gateway over an explicit API implementation
func NewGatewayWithAPI(cfg config.PaymentConfig, api API) *Gateway {
	currency := cfg.Currency
	if currency == "" {
		currency = "INR"
	}
	return &Gateway{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		currency:  currency,
		timeout:   gatewayTimeout(cfg),
		api:       api,
		logger:    util.GetLogger(),
	}
}

func gatewayTimeout(cfg config.PaymentConfig) time.Duration {
	if cfg.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}

// Configured reports whether both credentials are present
func (g *Gateway) Configured() bool {
	return g.keyID != "" && g.keySecret != "" && g.api != nil
}

// KeyID is the public key the browser checkout needs
func (g *Gateway) KeyID() string {
	return g.keyID
}

// Currency returns the ISO currency orders are created in
func (g *Gateway) Currency() string {
	return g.currency
}

// ToMinorUnits converts a 2-place amount to paise, truncating any extra precision
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).IntPart()
}

// CreateOrder registers an order with the gateway for amount
func (g *Gateway) CreateOrder(ctx context.Context, amount decimal.Decimal, receipt string, notes map[string]string) (*GatewayOrder, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.CreateOrder")
	defer span.End()

	if !g.Configured() {
		return nil, ErrGatewayNotConfigured
	}

	minor := ToMinorUnits(amount)
	data := map[string]interface{}{
		"amount":          minor,
		"currency":        g.currency,
		"receipt":         receipt,
		"payment_capture": 1,
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	body, err := g.call(ctx, "create_order", func() (map[string]interface{}, error) {
		return g.api.CreateOrder(data)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	id, _ := body["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("create_order: %w: response missing id", ErrGatewayCallFailed)
	}

	g.logger.Info("Gateway order created",
		zap.String("gateway_order_id", id),
		zap.String("receipt", receipt),
		zap.Int64("amount", minor))

	return &GatewayOrder{ID: id, Amount: minor, Currency: g.currency, Receipt: receipt}, nil
}

// VerifySignature checks hex(HMAC-SHA256(secret, orderID|paymentID)) against
// signature in constant time. An unconfigured gateway never verifies.
func (g *Gateway) VerifySignature(orderID, paymentID, signature string) bool {
	if g.keySecret == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(g.keySecret, orderID, paymentID)), []byte(signature))
}

// Sign computes the signature the gateway attaches to a successful payment
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Refund refunds amount on a captured payment. A nil amount refunds the full
// captured amount.
func (g *Gateway) Refund(ctx context.Context, paymentID string, amount *decimal.Decimal) (*Refund, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.Refund")
	defer span.End()

	if !g.Configured() {
		return nil, ErrGatewayNotConfigured
	}

	var minor int64
	if amount != nil {
		minor = ToMinorUnits(*amount)
	} else {
		payment, err := g.call(ctx, "fetch_payment", func() (map[string]interface{}, error) {
			return g.api.FetchPayment(paymentID)
		})
		if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
		minor = toInt64(payment["amount"])
	}

	body, err := g.call(ctx, "refund", func() (map[string]interface{}, error) {
		return g.api.Refund(paymentID, int(minor), nil)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	refund := &Refund{Amount: minor}
	refund.ID, _ = body["id"].(string)
	refund.Status, _ = body["status"].(string)
	if v, ok := body["amount"]; ok {
		refund.Amount = toInt64(v)
	}

	g.logger.Info("Refund issued",
		zap.String("payment_id", paymentID),
		zap.String("refund_id", refund.ID),
		zap.Int64("amount", refund.Amount))

	return refund, nil
}

// call runs a blocking gateway request under the configured timeout and
// records its latency. On timeout the request goroutine is abandoned; it ends
// when the SDK's HTTP client times out, which NewGateway sets to the same value.
func (g *Gateway) call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := fn()
		done <- result{body: body, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		res.err = ctx.Err()
	case res = <-done:
	}

	outcome := "success"
	if res.err != nil {
		outcome = "error"
	}
	util.GatewayRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())

	if res.err != nil {
		g.logger.Error("Gateway call failed", zap.String("operation", op), zap.Error(res.err))
		return nil, fmt.Errorf("%s: %w: %v", op, ErrGatewayCallFailed, res.err)
	}
	return res.body, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
