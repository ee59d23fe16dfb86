package manager

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	tasksSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskd",
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Total number of submitted generation tasks",
		},
	)

	tasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskd",
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Tasks that reached a terminal status",
		},
		[]string{"status"},
	)

	tokensGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskd",
			Subsystem: "tasks",
			Name:      "tokens_generated_total",
			Help:      "Tokens appended to task results",
		},
	)

	runningWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskd",
			Subsystem: "tasks",
			Name:      "running_workers",
			Help:      "Worker goroutines currently alive",
		},
	)

	decodeStepSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "taskd",
			Subsystem: "tasks",
			Name:      "decode_step_seconds",
			Help:      "Duration of one sample+decode step in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	samplerAdjustmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskd",
			Subsystem: "sampler",
			Name:      "adjustments_total",
			Help:      "Sampler parameters clamped into range",
		},
		[]string{"field"},
	)

	invalidIDTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskd",
			Subsystem: "tasks",
			Name:      "invalid_id_total",
			Help:      "Operations addressed to unknown or retired task ids",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		tasksSubmittedTotal,
		tasksCompletedTotal,
		tokensGeneratedTotal,
		runningWorkers,
		decodeStepSeconds,
		samplerAdjustmentsTotal,
		invalidIDTotal,
	)
}

// countInvalid records an operation on an unknown id and passes err through.
func countInvalid(op string, err error) error {
	if IsInvalidID(err) {
		invalidIDTotal.WithLabelValues(op).Inc()
	}
	return err
}
