package payments

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeUnhandled = "unhandled"
	outcomeRejected  = "rejected"
	outcomeRetry     = "retry"
)

// Metrics counts reconciled webhook events. A nil *Metrics records nothing.
type Metrics struct {
	Events    *prometheus.CounterVec
	Finalized prometheus.Counter
}

// NewMetrics registers the webhook collectors with reg, or the default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Payment webhook events partitioned by provider event type and outcome.",
	}, []string{"type", "outcome"})
	if err := reg.Register(events); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register webhook events collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing webhook events collector has unexpected type %T", already.ExistingCollector)
		}
		events = existing
	}

	finalized := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: "webhook",
		Name:      "orders_finalized_total",
		Help:      "Orders whose stock was decremented and cart cleared by a webhook event.",
	})
	if err := reg.Register(finalized); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register finalized orders collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, fmt.Errorf("existing finalized orders collector has unexpected type %T", already.ExistingCollector)
		}
		finalized = existing
	}

	return &Metrics{Events: events, Finalized: finalized}, nil
}

func (m *Metrics) observe(eventType, outcome string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) finalized() {
	if m == nil {
		return
	}
	m.Finalized.Inc()
}
