package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sales_created_total",
		Help: "Total number of sales transactions created",
	})

	SalesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sales_completed_total",
		Help: "Total number of sales transactions paid and completed",
	})

	SalesVoidedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sales_voided_total",
		Help: "Total number of sales transactions voided",
	})

	SalesReturnedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sales_returned_total",
		Help: "Total number of sales transactions returned and refunded",
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_orders_cancelled_total",
		Help: "Total number of orders cancelled",
	})

	OrdersRefundedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_orders_refunded_total",
		Help: "Total number of orders refunded",
	})

	InsufficientStockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_insufficient_stock_total",
		Help: "Total number of operations rejected for insufficient stock",
	}, []string{"operation"})

	PaymentAmountCents = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_payment_amount_cents",
		Help:    "Distribution of completed payment amounts in cents",
		Buckets: prometheus.ExponentialBuckets(100, 4, 10),
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)
