package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// CartService is the cart workflow the handlers drive
type CartService interface {
	GetCart(ctx context.Context, id service.Identity) (*service.CartView, error)
	AddItem(ctx context.Context, id service.Identity, productID int64, quantity int) (*service.CartView, error)
	UpdateItemQuantity(ctx context.Context, id service.Identity, itemID int64, quantity int) (*service.CartView, error)
	RemoveItem(ctx context.Context, id service.Identity, itemID int64) (*service.CartView, error)
	Clear(ctx context.Context, id service.Identity) (*service.CartView, error)
	Merge(ctx context.Context, userID int64, sessionID string) (*service.CartView, error)
	PreviewCoupon(ctx context.Context, id service.Identity, code string) (*service.CouponPreview, error)
}

// OrderService is the order workflow the handlers drive
type OrderService interface {
	CreateOrder(ctx context.Context, userID int64, req *service.CreateOrderRequest) (*models.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]models.Order, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)
	CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)
	ListAllOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error)
	GetOrderAdmin(ctx context.Context, orderID int64) (*models.Order, error)
	UpdateStatus(ctx context.Context, adminID, orderID int64, req *service.UpdateStatusRequest) (*models.Order, error)
}

// PaymentService is the payment workflow the handlers drive
type PaymentService interface {
	CreatePayment(ctx context.Context, userID, orderID int64) (*service.PaymentSession, error)
	VerifyPayment(ctx context.Context, userID int64, req *service.VerifyPaymentRequest) (*service.VerifyResult, error)
	RefundOrder(ctx context.Context, adminID, orderID int64, req *service.RefundRequest) (*models.Order, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	_ CartService    = (*service.CartService)(nil)
	_ OrderService   = (*service.OrderService)(nil)
	_ PaymentService = (*service.PaymentService)(nil)
)

// Handler contains HTTP handlers
type Handler struct {
	carts    CartService
	orders   OrderService
	payments PaymentService
	checks   map[string]Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler. checks are pinged by /ready.
func NewHandler(carts CartService, orders OrderService, payments PaymentService, checks map[string]Pinger) *Handler {
	return &Handler{
		carts:    carts,
		orders:   orders,
		payments: payments,
		checks:   checks,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))
	router.Use(identityMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		cart := v1.Group("/cart")
		cart.GET("", h.getCart)
		cart.DELETE("", h.clearCart)
		cart.POST("/items", h.addCartItem)
		cart.PUT("/items/:id", h.updateCartItem)
		cart.DELETE("/items/:id", h.removeCartItem)
		cart.POST("/merge", requireUser(), h.mergeCart)

		v1.POST("/coupons/validate", h.validateCoupon)

		orders := v1.Group("/orders", requireUser())
		orders.POST("", h.createOrder)
		orders.GET("", h.listOrders)
		orders.GET("/:id", h.getOrder)
		orders.POST("/:id/cancel", h.cancelOrder)

		payments := v1.Group("/payments", requireUser())
		payments.POST("/create", h.createPayment)
		payments.POST("/verify", h.verifyPayment)

		admin := v1.Group("/admin", requireUser(), requireAdmin())
		admin.GET("/orders", h.adminListOrders)
		admin.GET("/orders/:id", h.adminGetOrder)
		admin.PUT("/orders/:id/status", h.adminUpdateStatus)
		admin.POST("/orders/:id/refund", h.adminRefund)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrCheckoutInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrOutOfStock),
		errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrInvalidCoupon),
		errors.Is(err, service.ErrCouponExpired),
		errors.Is(err, service.ErrUsageLimitReached),
		errors.Is(err, service.ErrMinimumPurchaseNotMet),
		errors.Is(err, service.ErrCannotCancel):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrGatewayCallFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Server-side failures are
// logged and not echoed to the client.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFrom(c.Request.Context()).Error("Request failed", zap.Error(err))
		msg := "Internal server error"
		switch {
		case errors.Is(err, payment.ErrGatewayNotConfigured):
			msg = "Payment gateway is not configured"
		case errors.Is(err, payment.ErrGatewayCallFailed):
			msg = "Payment gateway request failed"
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string, err error) {
	body := gin.H{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid id", nil)
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
