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

	syscalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sysgate",
			Subsystem: "syscall",
			Name:      "calls_total",
			Help:      "Number of system calls dispatched, by call name.",
		}, []string{"call"},
	)
	syscallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sysgate",
			Subsystem: "syscall",
			Name:      "duration_seconds",
			Help:      "Time spent inside a system call handler, blocking calls included.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"call"},
	)
	faults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sysgate",
			Subsystem: "syscall",
			Name:      "faults_total",
			Help:      "Protocol violations that terminated a process, by reason.",
		}, []string{"reason"},
	)
	spawns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sysgate",
			Subsystem: "process",
			Name:      "spawns_total",
			Help:      "Number of user processes started by the loader.",
		},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sysgate",
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of process exits, by outcome (ok, error, killed).",
		}, []string{"outcome"},
	)
	running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sysgate",
			Subsystem: "process",
			Name:      "running",
			Help:      "Current number of live user processes.",
		},
	)
	openFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sysgate",
			Subsystem: "fd",
			Name:      "open",
			Help:      "Open file descriptors across all processes.",
		},
	)
	fsLockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sysgate",
			Subsystem: "fs",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the global filesystem lock.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 12),
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{syscalls, syscallDuration, faults, spawns, exits, running, openFiles, fsLockWait}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSyscall(call string) {
	if regOK.Load() {
		syscalls.WithLabelValues(call).Inc()
	}
}

func ObserveSyscall(call string, seconds float64) {
	if regOK.Load() {
		syscallDuration.WithLabelValues(call).Observe(seconds)
	}
}

func IncFault(reason string) {
	if regOK.Load() {
		faults.WithLabelValues(reason).Inc()
	}
}

func IncSpawn() {
	if regOK.Load() {
		spawns.Inc()
		running.Inc()
	}
}

// IncExit records a process exit. Status 0 is "ok", -1 is "killed" and any
// other status is "error".
func IncExit(status int) {
	if !regOK.Load() {
		return
	}
	outcome := "error"
	switch status {
	case 0:
		outcome = "ok"
	case -1:
		outcome = "killed"
	}
	exits.WithLabelValues(outcome).Inc()
	running.Dec()
}

func AddOpenFiles(delta int) {
	if regOK.Load() {
		openFiles.Add(float64(delta))
	}
}

func ObserveFSLockWait(seconds float64) {
	if regOK.Load() {
		fsLockWait.Observe(seconds)
	}
}
