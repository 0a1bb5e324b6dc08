package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Direction labels a conversion.
type Direction string

const (
	Decode Direction = "decode"
	Encode Direction = "encode"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder counts response header conversions. A nil *Recorder is a no-op.
type Recorder struct {
	conversions *prometheus.CounterVec // by direction, outcome
	failures    *prometheus.CounterVec // by direction, kind
}

// NewRecorder registers the conversion counters on reg under namespace.
// Collectors already registered by an earlier Recorder are reused.
func NewRecorder(reg prometheus.Registerer, namespace string) (*Recorder, error) {
	conversions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversions_total",
		Help:      "Number of HTTP/2 response header conversions.",
	}, []string{"direction", "outcome"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversion_errors_total",
		Help:      "Number of failed HTTP/2 response header conversions by error kind.",
	}, []string{"direction", "kind"})

	var err error
	if conversions, err = register(reg, conversions); err != nil {
		return nil, err
	}
	if failures, err = register(reg, failures); err != nil {
		return nil, err
	}
	return &Recorder{conversions: conversions, failures: failures}, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

// Success records a successful conversion.
func (r *Recorder) Success(d Direction) {
	if r == nil {
		return
	}
	r.conversions.WithLabelValues(string(d), OutcomeOK).Inc()
}

// Failure records a failed conversion of the given kind.
func (r *Recorder) Failure(d Direction, kind string) {
	if r == nil {
		return
	}
	r.conversions.WithLabelValues(string(d), OutcomeError).Inc()
	r.failures.WithLabelValues(string(d), kind).Inc()
}

// Conversions returns the counter for direction d and outcome. On a nil
// Recorder it returns a detached counter that is never exported.
func (r *Recorder) Conversions(d Direction, outcome string) prometheus.Counter {
	if r == nil {
		return detached()
	}
	return r.conversions.WithLabelValues(string(d), outcome)
}

// Errors returns the failure counter for direction d and error kind. On a nil
// Recorder it returns a detached counter that is never exported.
func (r *Recorder) Errors(d Direction, kind string) prometheus.Counter {
	if r == nil {
		return detached()
	}
	return r.failures.WithLabelValues(string(d), kind)
}

func detached() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Name: "detached_total", Help: "Unregistered counter."})
}
