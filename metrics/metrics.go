// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "picketline"

var (
	// Matches counts URL match attempts by result (matched, none).
	Matches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "URL match attempts by result",
		},
		[]string{"result"},
	)

	// AdsReplaced counts ad slots replaced with strike cards, by card size.
	AdsReplaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ads_replaced_total",
			Help:      "Ad slots replaced with strike cards",
		},
		[]string{"size"},
	)

	// Scans counts detector scans by trigger.
	Scans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Ad detector scans by trigger",
		},
		[]string{"trigger"},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Ad detector scan time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	// ActiveSessions tracks open page sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Open page sessions",
		},
	)

	// ActionRefreshes counts action list refreshes by outcome (ok, error).
	ActionRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_refreshes_total",
			Help:      "Labor action list refreshes by outcome",
		},
		[]string{"outcome"},
	)

	// ProxyRewrites counts proxied HTML responses by what happened to them
	// (rewritten, blocked, bypassed, skipped).
	ProxyRewrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_rewrites_total",
			Help:      "Proxied HTML responses by outcome",
		},
		[]string{"outcome"},
	)

	// APIRejections counts API requests refused by middleware, by reason
	// (unauthorized, rate_limited).
	APIRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_rejections_total",
			Help:      "API requests refused before reaching a handler",
		},
		[]string{"reason"},
	)

	// Fetches counts page fetches by engine and outcome (ok, error).
	Fetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Page fetches by engine and outcome",
		},
		[]string{"engine", "outcome"},
	)

	// CacheLookups counts rewrite cache lookups by result (hit, miss, stale).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Rewrite cache lookups by result",
		},
		[]string{"result"},
	)
)
