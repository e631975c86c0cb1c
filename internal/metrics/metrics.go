// Package metrics содержит метрики Prometheus сервиса сверки платежей.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal считает вебхуки по провайдеру, типу события и результату.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "valoralocal",
		Subsystem: "reconciler",
		Name:      "webhook_requests_total",
		Help:      "Total webhook requests by provider, event type and outcome.",
	}, []string{"provider", "event_type", "outcome"})

	// WebhookDuration измеряет длительность обработки вебхуков.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "valoralocal",
		Subsystem: "reconciler",
		Name:      "webhook_duration_seconds",
		Help:      "Webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// FinalizeTotal считает попытки финализации подписки по результату.
	FinalizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "valoralocal",
		Subsystem: "reconciler",
		Name:      "finalize_total",
		Help:      "Subscription finalization attempts by provider and outcome.",
	}, []string{"provider", "outcome"})

	// ReferralCreditsTotal считает начисления реферальных вознаграждений по результату.
	ReferralCreditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "valoralocal",
		Subsystem: "reconciler",
		Name:      "referral_credits_total",
		Help:      "Referral credit attempts by outcome.",
	}, []string{"outcome"})

	// SweepResetsTotal считает записи, возвращённые обслуживающими задачами.
	SweepResetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "valoralocal",
		Subsystem: "reconciler",
		Name:      "sweep_rows_total",
		Help:      "Rows changed by maintenance sweeps.",
	}, []string{"job"})
)

// Результаты финализации.
const (
	OutcomeCreated    = "created"
	OutcomeExisting   = "existing"
	OutcomeInProgress = "in_progress"
	OutcomeError      = "error"
)
