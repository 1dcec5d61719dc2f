// Package metrics exposes the runtime's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors shared across the runtime. Components
// receive it at construction; a nil *Metrics disables instrumentation.
type Metrics struct {
	CapabilityChecks *prometheus.CounterVec
	PolicyDenials    prometheus.Counter
	HostCalls        *prometheus.CounterVec
	FuelConsumed     prometheus.Counter
	PluginCalls      *prometheus.CounterVec
	LiveInstances    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CapabilityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caplet",
			Name:      "capability_checks_total",
			Help:      "Capability checks by decision.",
		}, []string{"decision"}),
		PolicyDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caplet",
			Name:      "policy_denials_total",
			Help:      "Requests denied by the policy overlay.",
		}),
		HostCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caplet",
			Name:      "host_calls_total",
			Help:      "Sandbox host calls by function.",
		}, []string{"function"}),
		FuelConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caplet",
			Name:      "fuel_consumed_total",
			Help:      "Total fuel charged across all plugin calls.",
		}),
		PluginCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caplet",
			Name:      "plugin_calls_total",
			Help:      "Plugin function invocations by outcome.",
		}, []string{"outcome"}),
		LiveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "caplet",
			Name:      "live_instances",
			Help:      "Warm sandbox instances across all pools.",
		}),
	}
	reg.MustRegister(
		m.CapabilityChecks,
		m.PolicyDenials,
		m.HostCalls,
		m.FuelConsumed,
		m.PluginCalls,
		m.LiveInstances,
	)
	return m
}

// CheckRecorded counts one capability check. Nil-safe.
func (m *Metrics) CheckRecorded(decision string) {
	if m == nil {
		return
	}
	m.CapabilityChecks.WithLabelValues(decision).Inc()
}

// PolicyDenied counts one policy denial. Nil-safe.
func (m *Metrics) PolicyDenied() {
	if m == nil {
		return
	}
	m.PolicyDenials.Inc()
}

// HostCalled counts one host call. Nil-safe.
func (m *Metrics) HostCalled(function string) {
	if m == nil {
		return
	}
	m.HostCalls.WithLabelValues(function).Inc()
}

// FuelCharged accumulates consumed fuel. Nil-safe.
func (m *Metrics) FuelCharged(amount uint64) {
	if m == nil {
		return
	}
	m.FuelConsumed.Add(float64(amount))
}

// PluginCallFinished counts one plugin invocation. Nil-safe.
func (m *Metrics) PluginCallFinished(outcome string) {
	if m == nil {
		return
	}
	m.PluginCalls.WithLabelValues(outcome).Inc()
}

// InstanceDelta adjusts the live instance gauge. Nil-safe.
func (m *Metrics) InstanceDelta(delta int) {
	if m == nil {
		return
	}
	m.LiveInstances.Add(float64(delta))
}
