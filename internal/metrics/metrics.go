// Package metrics holds the distributor's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used with EventsDropped.
const (
	ReasonDecode     = "decode"
	ReasonUnroutable = "unroutable"
	ReasonDuplicate  = "duplicate"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distributor_events_received_total",
		Help: "Events fetched from the upstream log",
	}, []string{"source"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distributor_events_dropped_total",
		Help: "Events acknowledged without any broadcast attempt",
	}, []string{"source", "reason"})

	SerializationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distributor_serialization_failures_total",
		Help: "Events left unacknowledged because the envelope could not be encoded",
	}, []string{"source"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distributor_deliveries_total",
		Help: "Per-session send attempts by result",
	}, []string{"result"})

	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "distributor_event_processing_seconds",
		Help:    "Time from fetch to settled broadcast for one event",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distributor_sessions_active",
		Help: "Open client sessions",
	})

	TopicsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distributor_topics_active",
		Help: "Topics with at least one subscriber",
	})
)
