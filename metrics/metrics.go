// Package metrics reports engine operations to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/core"
	"github.com/prometheus/client_golang/prometheus"
)

// Observer counts engine operations by outcome. It implements core.Observer.
type Observer struct {
	operations *prometheus.CounterVec
	oauth      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// New creates an Observer and registers its collectors with registry, the
// default registerer when nil
func New(registry prometheus.Registerer) (*Observer, error) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	o := &Observer{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beaconauth",
			Name:      "operations_total",
			Help:      "Engine operations by result",
		}, []string{"operation", "result"}),
		oauth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beaconauth",
			Name:      "oauth_sign_ins_total",
			Help:      "OAuth sign-ins by provider and result",
		}, []string{"provider", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "beaconauth",
			Name:      "oauth_sign_in_duration_seconds",
			Help:      "Duration of OAuth callbacks: code exchange, profile fetch and persistence",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}

	var err error
	if o.operations, err = register(registry, o.operations); err != nil {
		return nil, err
	}
	if o.oauth, err = register(registry, o.oauth); err != nil {
		return nil, err
	}
	if o.latency, err = register(registry, o.latency); err != nil {
		return nil, err
	}
	return o, nil
}

// Observe records the result of an engine operation
func (o *Observer) Observe(operation string, err error) {
	o.operations.WithLabelValues(operation, Result(err)).Inc()
}

// ObserveOAuth records the result of an OAuth callback. It implements
// oauth.Observer.
func (o *Observer) ObserveOAuth(provider string, elapsed time.Duration, err error) {
	o.oauth.WithLabelValues(provider, Result(err)).Inc()
	o.latency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Result is the label value of an outcome: "ok" or the auth error code
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return core.ErrorCode(err)
}

// register adds c to registry, returning the collector already registered
// under the same name if any
func register[C prometheus.Collector](registry prometheus.Registerer, c C) (C, error) {
	err := registry.Register(c)
	if err == nil {
		return c, nil
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}
