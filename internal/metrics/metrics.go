// Package metrics exposes Prometheus collectors for the authentication pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "faceauth"

// Metrics groups the collectors shared by the remote client, the vector store and the cascade.
type Metrics struct {
	Logins             *prometheus.CounterVec
	RemoteRequests     *prometheus.CounterVec
	VectorStrategies   *prometheus.CounterVec
	CapabilityDegraded prometheus.Gauge
}

// New registers the collectors with reg (the default registerer when nil).
// Collectors already registered by a previous call are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	logins, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_total",
		Help:      "Login attempts partitioned by deciding strategy and result.",
	}, []string{"strategy", "result"}))
	if err != nil {
		return nil, err
	}

	remote, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_requests_total",
		Help:      "Remote face service calls partitioned by operation and HTTP status.",
	}, []string{"operation", "status"}))
	if err != nil {
		return nil, err
	}

	strategies, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vector_strategy_total",
		Help:      "Vector queries answered, partitioned by the strategy that served them.",
	}, []string{"strategy"}))
	if err != nil {
		return nil, err
	}

	degraded := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "capability_degraded",
		Help:      "1 when the remote identify capability has been disabled for this process.",
	})
	if err := reg.Register(degraded); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register capability gauge: %w", err)
		}
		existing, ok := already.ExistingCollector.(prometheus.Gauge)
		if !ok {
			return nil, fmt.Errorf("existing capability collector has unexpected type %T", already.ExistingCollector)
		}
		degraded = existing
	}

	return &Metrics{
		Logins:             logins,
		RemoteRequests:     remote,
		VectorStrategies:   strategies,
		CapabilityDegraded: degraded,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register counter: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing counter has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

// ObserveLogin counts a finished login attempt. Safe on a nil receiver.
func (m *Metrics) ObserveLogin(strategy string, success bool) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
	}
	m.Logins.WithLabelValues(strategy, result).Inc()
}

// ObserveRemote counts a remote call. status is 0 for transport errors.
func (m *Metrics) ObserveRemote(operation string, status int) {
	if m == nil {
		return
	}
	m.RemoteRequests.WithLabelValues(operation, fmt.Sprintf("%d", status)).Inc()
}

// ObserveStrategy counts a vector query served by strategy.
func (m *Metrics) ObserveStrategy(strategy string) {
	if m == nil {
		return
	}
	m.VectorStrategies.WithLabelValues(strategy).Inc()
}

// SetDegraded flags the remote identify capability as lost.
func (m *Metrics) SetDegraded() {
	if m == nil {
		return
	}
	m.CapabilityDegraded.Set(1)
}
