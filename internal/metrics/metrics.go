// Package metrics содержит Prometheus-метрики движков и фоновых задач.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PricingsCreated - число созданных расчётов.
var PricingsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "passculture",
	Subsystem: "finance",
	Name:      "pricings_created_total",
	Help:      "Total pricings created.",
})

// PricingsDeleted - число расчётов, удалённых каскадом.
var PricingsDeleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "passculture",
	Subsystem: "finance",
	Name:      "pricings_deleted_total",
	Help:      "Total dependent pricings deleted by the cancellation cascade.",
})

// PricingsCancelled - число отменённых расчётов.
var PricingsCancelled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "passculture",
	Subsystem: "finance",
	Name:      "pricings_cancelled_total",
	Help:      "Total pricings cancelled.",
})

// PricingFailures - ошибки расчёта, после которых финансовая единица пропускается до конца прогона.
var PricingFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "passculture",
	Subsystem: "finance",
	Name:      "pricing_failures_total",
	Help:      "Total booking pricing failures in batch runs.",
})

// RecreditsIssued - выданные пополнения по типу.
var RecreditsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "passculture",
	Subsystem: "deposit",
	Name:      "recredits_issued_total",
	Help:      "Total recredits issued.",
}, []string{"type"})

// DepositsCreated - созданные депозиты по типу.
var DepositsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "passculture",
	Subsystem: "deposit",
	Name:      "deposits_created_total",
	Help:      "Total deposits created.",
}, []string{"type"})

// RecreditFailures - пользователи, на которых упал пакетный прогон пополнений.
var RecreditFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "passculture",
	Subsystem: "deposit",
	Name:      "recredit_failures_total",
	Help:      "Total users that failed during batch recredit.",
})

// CollectiveTransitions - переходы образовательных бронирований по событию.
var CollectiveTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "passculture",
	Subsystem: "educational",
	Name:      "booking_transitions_total",
	Help:      "Total collective booking transitions.",
}, []string{"event", "to"})

// JobDuration - длительность фоновых задач.
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "passculture",
	Subsystem: "jobs",
	Name:      "duration_seconds",
	Help:      "Duration of scheduled job runs.",
	Buckets:   prometheus.DefBuckets,
}, []string{"job"})
