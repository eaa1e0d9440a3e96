package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "testkit"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "events_published_total",
		Help:      "Count of lifecycle events published on the bus",
	}, []string{
		"run_id",
		"kind",
	})

	listenerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "listener_errors_total",
		Help:      "Count of listener faults during event delivery",
	}, []string{
		"run_id",
	})

	sessionResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "session_results",
		Help:      "Result of execution sessions",
	}, []string{
		"run_id",
		"result",
	})

	sessionTestsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "session_tests_started",
		Help:      "Number of leaf tests started in a session",
	}, []string{
		"run_id",
	})

	sessionTestsByStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "session_tests_by_status",
		Help:      "Leaf test outcomes in a session, partitioned by status",
	}, []string{
		"run_id",
		"status",
	})

	sessionDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "session_duration",
		Help:      "Duration of execution sessions",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordEventPublished counts one published lifecycle event.
func RecordEventPublished(runID string, kind string) {
	if Debug {
		log.Debug("metric inc",
			"m", "events_published_total",
			"run_id", runID,
			"kind", kind)
	}
	eventsPublishedTotal.WithLabelValues(runID, kind).Inc()
}

// RecordListenerError counts one listener fault. Listener faults are
// infrastructure errors, tracked separately from test outcomes.
func RecordListenerError(runID string) {
	listenerErrorsTotal.WithLabelValues(runID).Inc()
}

// RecordSession records the aggregate outcome of one session.
func RecordSession(
	runID string,
	result string,
	started int,
	succeeded int,
	aborted int,
	failed int,
	skipped int,
	duration time.Duration,
) {
	sessionResults.WithLabelValues(runID, result).Set(1)
	sessionTestsStarted.WithLabelValues(runID).Add(float64(started))
	sessionTestsByStatus.WithLabelValues(runID, "successful").Add(float64(succeeded))
	sessionTestsByStatus.WithLabelValues(runID, "aborted").Add(float64(aborted))
	sessionTestsByStatus.WithLabelValues(runID, "failed").Add(float64(failed))
	sessionTestsByStatus.WithLabelValues(runID, "skipped").Add(float64(skipped))
	sessionDuration.WithLabelValues(runID).Set(duration.Seconds())
}
