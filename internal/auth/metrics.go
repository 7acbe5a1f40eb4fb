// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for authentication. They are package-level so services can record
// without holding a registry; RegisterMetrics exposes them on one.
var (
	// storeFaults counts repository errors converted to safe negatives.
	storeFaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_store_faults_total",
		Help: "Total number of store faults resolved to a negative result, by operation",
	}, []string{"operation"})

	// authAttempts counts login, registration and restore outcomes.
	authAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatehouse_auth_attempts_total",
		Help: "Total number of authentication attempts by kind and result",
	}, []string{"kind", "result"})

	// throttledSources tracks the number of sources with a failure entry.
	throttledSources = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gatehouse_ratelimit_sources",
		Help: "Number of source addresses currently tracked by the rate limiter",
	})

	// cachedAccounts tracks the size of the session cache.
	cachedAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gatehouse_cached_accounts",
		Help: "Number of accounts currently authenticated in the session cache",
	})

	// maintenanceRuns counts completed maintenance passes.
	maintenanceRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatehouse_maintenance_runs_total",
		Help: "Total number of completed maintenance passes",
	})
)

// RegisterMetrics registers the authentication metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(storeFaults, authAttempts, throttledSources, cachedAccounts, maintenanceRuns)
}

func recordStoreFault(operation string) {
	storeFaults.WithLabelValues(operation).Inc()
}

func recordAttempt(kind, result string) {
	authAttempts.WithLabelValues(kind, result).Inc()
}
