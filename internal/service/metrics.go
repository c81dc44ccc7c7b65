package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	intentsInitiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lipa_intents_initiated_total",
		Help: "Payment intents by initiation outcome.",
	}, []string{"outcome"})

	callbacksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lipa_callbacks_total",
		Help: "Provider callbacks by handling result.",
	}, []string{"result"})

	intentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lipa_intent_transitions_total",
		Help: "Applied terminal transitions by status and source.",
	}, []string{"status", "source"})

	orderSyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lipa_order_sync_failures_total",
		Help: "Order updates that failed after a succeeded payment.",
	})
)
