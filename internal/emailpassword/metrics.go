// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status label values for operation metrics.
const (
	StatusSuccess = "success"
	StatusFailure = "failure" // domain error returned to the caller
	StatusError   = "error"   // internal error
)

// Operations is the counter of workflow steps by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Operations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "emailpassword_operations_total",
		Help: "Total number of credential workflow operations",
	},
	[]string{"operation", "status"},
)

// OperationDuration is the histogram of workflow step latency.
var OperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "emailpassword_operation_duration_seconds",
		Help:    "Credential workflow operation duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// CommitConflicts counts event appends rejected by a stream version check.
var CommitConflicts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "emailpassword_commit_conflicts_total",
		Help: "Total number of optimistic concurrency conflicts while committing events",
	},
	[]string{"operation"},
)

// LoginFailures counts failed logins by reason.
var LoginFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "emailpassword_login_failures_total",
		Help: "Total number of failed login attempts",
	},
	[]string{"reason"},
)

// RegisterMetrics registers emailpassword metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Operations)
	reg.MustRegister(OperationDuration)
	reg.MustRegister(CommitConflicts)
	reg.MustRegister(LoginFailures)
}

// RecordOperation increments the operation counter and observes its duration.
func RecordOperation(operation, status string, duration time.Duration) {
	Operations.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCommitConflict increments the conflict counter for an operation.
func RecordCommitConflict(operation string) {
	CommitConflicts.WithLabelValues(operation).Inc()
}

// RecordLoginFailure increments the login failure counter.
func RecordLoginFailure(reason string) {
	LoginFailures.WithLabelValues(reason).Inc()
}
