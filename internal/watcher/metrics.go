package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var fillsObserved = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "orderflow",
	Subsystem: "watcher",
	Name:      "fills_observed_total",
	Help:      "Fill events that produced an EXECUTED transition",
})

var fillsIgnored = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "orderflow",
	Subsystem: "watcher",
	Name:      "fill_events_ignored_total",
	Help:      "Fill events skipped: redelivered, unknown hash or foreign order",
})
