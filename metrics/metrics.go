// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transitions counts milestone transition requests by transition name and
	// outcome (ok, validation, authorization, conflict, not_found, error).
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowflow",
		Subsystem: "milestone",
		Name:      "transitions_total",
		Help:      "Milestone transition requests by transition and outcome.",
	}, []string{"transition", "outcome"})

	// EmitterFailures counts best-effort notification failures by channel.
	// These never affect the committed transition.
	EmitterFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowflow",
		Subsystem: "notify",
		Name:      "emitter_failures_total",
		Help:      "Best-effort notification failures by channel.",
	}, []string{"channel"})
)
