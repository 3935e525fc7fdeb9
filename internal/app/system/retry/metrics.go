package retry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsOptions configures the executor's collectors.
type MetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
	Subsystem  string
}

// Metrics counts unit-of-work attempts per operation.
type Metrics struct {
	Attempts  *prometheus.CounterVec
	Conflicts *prometheus.CounterVec
	Exhausted *prometheus.CounterVec
}

// NewMetrics constructs the executor collectors and registers them with the
// provided registerer. Collectors already registered under the same name are
// reused.
func NewMetrics(opts MetricsOptions) (*Metrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "stratabook"
	}

	subsystem := opts.Subsystem
	if subsystem == "" {
		subsystem = "txn"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	attempts, err := registerCounter(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "attempts_total",
		Help:      "Units of work started, partitioned by operation.",
	})
	if err != nil {
		return nil, err
	}

	conflicts, err := registerCounter(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "conflicts_total",
		Help:      "Units of work rolled back by a concurrent modification, partitioned by operation.",
	})
	if err != nil {
		return nil, err
	}

	exhausted, err := registerCounter(reg, prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "retries_exhausted_total",
		Help:      "Operations abandoned after the retry limit, partitioned by operation.",
	})
	if err != nil {
		return nil, err
	}

	return &Metrics{Attempts: attempts, Conflicts: conflicts, Exhausted: exhausted}, nil
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) (*prometheus.CounterVec, error) {
	cv := prometheus.NewCounterVec(opts, []string{"operation"})
	if err := reg.Register(cv); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
	}
	return cv, nil
}

func (m *Metrics) attempt(op string) {
	if m != nil {
		m.Attempts.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) conflict(op string) {
	if m != nil {
		m.Conflicts.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) exhausted(op string) {
	if m != nil {
		m.Exhausted.WithLabelValues(op).Inc()
	}
}
