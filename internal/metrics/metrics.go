package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HoldsGranted counts successful seat reservations.
	HoldsGranted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "holds_granted_total",
			Help:      "The total number of seat holds granted",
		},
	)

	// HoldsRejected counts refused reservations by reason.
	HoldsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "holds_rejected_total",
			Help:      "The total number of seat holds refused",
		},
		[]string{"reason"},
	)

	// HoldsReleased counts holds returned to the pool by reason.
	HoldsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "holds_released_total",
			Help:      "The total number of seat holds released",
		},
		[]string{"reason"},
	)

	// BookingsConfirmed counts bookings created from committed holds.
	BookingsConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "bookings_confirmed_total",
			Help:      "The total number of bookings confirmed",
		},
	)

	// RemindersSent counts reminder notifications by outcome.
	RemindersSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "reminders_total",
			Help:      "The total number of reminder dispatch attempts",
		},
		[]string{"outcome"},
	)

	// WorkerTickDuration tracks how long each background tick takes.
	WorkerTickDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  "booking",
			Name:       "worker_tick_duration_seconds",
			Help:       "Time spent in one background worker tick",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"worker"},
	)
)
