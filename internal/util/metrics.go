package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CampaignJoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_joins_total",
		Help: "Total number of join attempts by result",
	}, []string{"result"})

	CampaignPaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_payments_total",
		Help: "Total number of payment attempts by result",
	}, []string{"result"})

	PaymentSettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_settlement_latency_seconds",
		Help:    "Latency of payment settlement",
		Buckets: prometheus.DefBuckets,
	})

	CampaignPhaseTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_phase_transitions_total",
		Help: "Total number of campaign phase transitions",
	}, []string{"from", "to", "trigger"})

	CampaignsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campaigns_created_total",
		Help: "Total number of campaigns created",
	})

	DeadlineSweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deadline_sweep_runs_total",
		Help: "Total number of payment deadline sweeps by result",
	}, []string{"result"})

	DeadlineSweepLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deadline_sweep_latency_seconds",
		Help:    "Latency of payment deadline sweeps",
		Buckets: prometheus.DefBuckets,
	})

	ListingCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listing_cache_total",
		Help: "Campaign listing cache lookups by result",
	}, []string{"result"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_events_published_total",
		Help: "Total number of campaign events published",
	}, []string{"type", "result"})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_events_consumed_total",
		Help: "Total number of consumed campaign events by outcome",
	}, []string{"result"})

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
