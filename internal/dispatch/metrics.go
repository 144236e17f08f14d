package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	promNamespace = "invoker"
	promSubsystem = "dispatch"
)

// tokensAvailableFunc is overridden by NewExecutor to report the live
// token bucket length, the same var-of-func indirection the teacher uses
// so promauto's GaugeFunc can be registered before the bucket exists.
var tokensAvailableFunc = func() int { return 0 }

var (
	maxInFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "max_in_flight",
		Help:      "Configured limit on number of calls simultaneously in flight",
	})
	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "tokens_available",
		Help:      "Dispatch tokens currently available",
	}, func() float64 { return float64(tokensAvailableFunc()) })
	tokenWaitDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                    promNamespace,
		Subsystem:                    promSubsystem,
		Name:                         "token_wait_duration_seconds",
		Help:                         "Time spent waiting for a dispatch token to become available",
		NativeHistogramBucketFactor:  1.1,
		NativeHistogramZeroThreshold: 0.01,
	})

	invokedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "invoked_total",
		Help:      "Count of calls successfully invoked",
	})
	quotaRejectedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "quota_rejected_total",
		Help:      "Count of calls rejected by the backend for exceeded quota and requeued",
	})
	invokeErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystem,
		Name:      "invoke_errors_total",
		Help:      "Count of calls that failed invocation with a hard error",
	})
)
