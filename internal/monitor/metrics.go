package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	promNamespace = "invoker"
	promSubsystem = "monitor"
)

var (
	statusQueryCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "status_queries_total",
		Help:      "Count of job-status queries made to the metadata store",
	})
	statusQueryErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "status_query_errors_total",
		Help:      "Count of errors from job-status queries to the metadata store",
	})
	statusQueryDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                    promNamespace,
		Subsystem:                    promSubsystem,
		Name:                         "status_query_duration_seconds",
		Help:                         "Time taken to fetch job status from the metadata store",
		NativeHistogramBucketFactor:  1.1,
		NativeHistogramZeroThreshold: 0.001,
	})
	callsCompletedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "calls_completed_total",
		Help:      "Count of calls observed finishing, across all jobs",
	})
	busMessagesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "bus_messages_total",
		Help:      "Count of completion messages received over the message bus",
	})
	activeJobsGaugeFunc = func() int { return 0 }
	_                   = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "active_jobs",
		Help:      "Count of jobs currently being monitored",
	}, func() float64 { return float64(activeJobsGaugeFunc()) })
)
