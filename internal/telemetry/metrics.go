// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes.
const (
	OutcomeComplete      = "complete"
	OutcomeNotConfigured = "not_configured"
	OutcomeTransport     = "transport_error"
	OutcomeStatus        = "status_error"
	OutcomeStream        = "stream_error"
)

// Cost lookup results.
const (
	LookupResolved = "resolved"
	LookupPending  = "pending"
	LookupFailed   = "failed"
	LookupGaveUp   = "gave_up"
)

// Metrics holds the Prometheus collectors for the chat client.
type Metrics struct {
	requests    *prometheus.CounterVec
	duration    prometheus.Histogram
	tokens      prometheus.Counter
	costLookups *prometheus.CounterVec
	costDollars prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rigchat",
			Name:      "requests_total",
			Help:      "Chat completion requests by outcome",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rigchat",
			Name:      "request_duration_seconds",
			Help:      "Time from request start to terminal callback",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		tokens: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rigchat",
			Name:      "stream_tokens_total",
			Help:      "Streamed content deltas delivered to callers",
		}),
		costLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rigchat",
			Name:      "cost_lookups_total",
			Help:      "Generation cost lookup attempts by result",
		}, []string{"result"}),
		costDollars: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rigchat",
			Name:      "cost_usd_total",
			Help:      "Dollars billed across reconciled generations",
		}),
	}
}

// ObserveRequest counts a finished request.
func (m *Metrics) ObserveRequest(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.duration.Observe(elapsed.Seconds())
	}
}

// ObserveToken counts one streamed delta.
func (m *Metrics) ObserveToken() {
	if m == nil {
		return
	}
	m.tokens.Inc()
}

// ObserveCostLookup counts a cost lookup attempt or final outcome.
func (m *Metrics) ObserveCostLookup(result string) {
	if m == nil {
		return
	}
	m.costLookups.WithLabelValues(result).Inc()
}

// ObserveCost adds billed dollars.
func (m *Metrics) ObserveCost(dollars float64) {
	if m == nil || dollars < 0 {
		return
	}
	m.costDollars.Add(dollars)
}
