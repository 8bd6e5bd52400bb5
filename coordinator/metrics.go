package coordinator

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// Observer receives coordinator telemetry.
type Observer interface {
	RecordTransition(from, to uploadtypes.Status)
	RecordStoreRequest(op string, duration time.Duration, err error)
	RecordPartURLs(n int)
}

// NopObserver discards telemetry.
type NopObserver struct{}

func (NopObserver) RecordTransition(uploadtypes.Status, uploadtypes.Status) {}
func (NopObserver) RecordStoreRequest(string, time.Duration, error)         {}
func (NopObserver) RecordPartURLs(int)                                      {}

// PrometheusObserver exports coordinator metrics to Prometheus.
type PrometheusObserver struct {
	transitions    *prometheus.CounterVec
	storeDuration  *prometheus.HistogramVec
	storeErrors    *prometheus.CounterVec
	partURLsIssued prometheus.Counter
}

// NewPrometheusObserver registers the coordinator metrics with reg, reusing
// collectors that are already registered.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "upload"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session status transitions.",
		}, []string{"from", "to"}),
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_request_duration_seconds",
			Help:      "Latency of object store control-plane requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_request_errors_total",
			Help:      "Failed object store control-plane requests.",
		}, []string{"operation", "status"}),
		partURLsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "part_urls_issued_total",
			Help:      "Presigned part URLs issued.",
		}),
	}

	var err error
	if o.transitions, err = register(reg, o.transitions); err != nil {
		return nil, err
	}
	if o.storeDuration, err = register(reg, o.storeDuration); err != nil {
		return nil, err
	}
	if o.storeErrors, err = register(reg, o.storeErrors); err != nil {
		return nil, err
	}
	if o.partURLsIssued, err = register(reg, o.partURLsIssued); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register coordinator metric: %w", err)
	}
	return c, nil
}

// RecordTransition implements Observer.
func (o *PrometheusObserver) RecordTransition(from, to uploadtypes.Status) {
	if o == nil {
		return
	}
	o.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordStoreRequest implements Observer.
func (o *PrometheusObserver) RecordStoreRequest(op string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.storeDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		status := "error"
		if se, ok := errors.AsStoreError(err); ok {
			status = fmt.Sprintf("%d", se.StatusCode)
		}
		o.storeErrors.WithLabelValues(op, status).Inc()
	}
}

// RecordPartURLs implements Observer.
func (o *PrometheusObserver) RecordPartURLs(n int) {
	if o == nil {
		return
	}
	o.partURLsIssued.Add(float64(n))
}

var (
	_ Observer = NopObserver{}
	_ Observer = (*PrometheusObserver)(nil)
)
