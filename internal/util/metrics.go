package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_orders_created_total",
		Help: "Total number of orders created from carts",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_orders_failed_total",
		Help: "Total number of rejected checkout attempts",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_orders_cancelled_total",
		Help: "Total number of orders cancelled by customers",
	})

	OrderNumberCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_order_number_collisions_total",
		Help: "Generated order numbers that collided and were regenerated",
	})

	StockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_stock_conflicts_total",
		Help: "Checkouts rejected because stock ran out under lock",
	})

	CouponRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_coupon_rejections_total",
		Help: "Coupon evaluations that failed, by reason",
	}, []string{"reason"})

	OrderCreateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_order_create_latency_seconds",
		Help:    "Latency of the create-order transaction",
		Buckets: prometheus.DefBuckets,
	})

	PaymentVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payment_verifications_total",
		Help: "Payment verifications by result",
	}, []string{"result"})

	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_refunds_total",
		Help: "Refund attempts by result",
	}, []string{"result"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_gateway_request_duration_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	StatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_status_transitions_total",
		Help: "Admin status changes by target status",
	}, []string{"to"})

	AnomalousTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_anomalous_transitions_total",
		Help: "Admin status changes outside the usual lifecycle",
	}, []string{"from", "to"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_notifications_total",
		Help: "Customer notifications by kind and outcome",
	}, []string{"kind", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
