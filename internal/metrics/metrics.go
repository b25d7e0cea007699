// Package metrics provides Prometheus collection and exposure.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records verification-subsystem metrics. Services call it
// directly; a nil *Collector is safe and records nothing.
type Collector struct {
	codesIssued    *prometheus.CounterVec
	codesConsumed  *prometheus.CounterVec
	gateAttempts   *prometheus.CounterVec
	tierTransition *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		codesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_codes_issued_total",
			Help: "Verification codes issued, by channel.",
		}, []string{"channel"}),
		codesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_codes_consumed_total",
			Help: "Code consume attempts, by channel and result.",
		}, []string{"channel", "result"}),
		gateAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_gate_attempts_total",
			Help: "Access-gate authorization attempts, by outcome.",
		}, []string{"outcome"}),
		tierTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_tier_transitions_total",
			Help: "Account tier transitions, by from and to tier.",
		}, []string{"from", "to"}),
	}

	reg.MustRegister(
		c.codesIssued,
		c.codesConsumed,
		c.gateAttempts,
		c.tierTransition,
	)

	return c
}

func (c *Collector) RecordIssued(channel string) {
	if c == nil {
		return
	}
	c.codesIssued.WithLabelValues(channel).Inc()
}

func (c *Collector) RecordConsumed(channel, result string) {
	if c == nil {
		return
	}
	c.codesConsumed.WithLabelValues(channel, result).Inc()
}

func (c *Collector) RecordGateAttempt(granted bool) {
	if c == nil {
		return
	}
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	c.gateAttempts.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordTierTransition(from, to string) {
	if c == nil {
		return
	}
	c.tierTransition.WithLabelValues(from, to).Inc()
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
