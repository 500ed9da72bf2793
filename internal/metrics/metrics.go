package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	updateChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "measures",
			Subsystem: "update",
			Name:      "checks_total",
			Help:      "Number of update calls by outcome (noop, installed, failed).",
		}, []string{"path", "outcome"},
	)
	installs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "measures",
			Subsystem: "update",
			Name:      "installs_total",
			Help:      "Number of completed installs.",
		}, []string{"path"},
	)
	installDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "measures",
			Subsystem: "update",
			Name:      "install_duration_seconds",
			Help:      "Time spent downloading and extracting a measures archive.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"path"},
	)
	lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "measures",
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for the data lock.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	lastCheck = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "measures",
			Subsystem: "update",
			Name:      "last_check_timestamp_seconds",
			Help:      "Unix time of the last successful check or install.",
		}, []string{"path"},
	)
	installedVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "measures",
			Subsystem: "data",
			Name:      "installed_info",
			Help:      "Installed measures version (1 = current).",
		}, []string{"path", "version"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{updateChecks, installs, installDuration, lockWait, lastCheck, installedVersion}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncCheck(path, outcome string) {
	if regOK.Load() {
		updateChecks.WithLabelValues(path, outcome).Inc()
	}
}

func IncInstall(path string) {
	if regOK.Load() {
		installs.WithLabelValues(path).Inc()
	}
}

func ObserveInstallDuration(path string, seconds float64) {
	if regOK.Load() {
		installDuration.WithLabelValues(path).Observe(seconds)
	}
}

func ObserveLockWait(seconds float64) {
	if regOK.Load() {
		lockWait.Observe(seconds)
	}
}

func SetLastCheck(path string, unix float64) {
	if regOK.Load() {
		lastCheck.WithLabelValues(path).Set(unix)
	}
}

// SetInstalledVersion marks version as the one installed at path, clearing
// any previously reported version for that path.
func SetInstalledVersion(path, version string) {
	if regOK.Load() {
		installedVersion.DeletePartialMatch(prometheus.Labels{"path": path})
		installedVersion.WithLabelValues(path, version).Set(1)
	}
}
