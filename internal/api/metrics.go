package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ordersCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "orderflow",
	Subsystem: "api",
	Name:      "orders_created_total",
	Help:      "Orders built and persisted in AWAITING_SIGNATURE",
})

var ordersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "orderflow",
	Subsystem: "api",
	Name:      "orders_submitted_total",
	Help:      "Orders transitioned to PENDING with a swapper signature",
})

var wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "orderflow",
	Subsystem: "api",
	Name:      "websocket_connections",
	Help:      "Live order-status websocket connections",
})
