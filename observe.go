package searchkit

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Lookup results recorded for every Submit.
const (
	lookupHit      = "hit"
	lookupMiss     = "miss"
	lookupJoined   = "joined"
	lookupRejected = "rejected"
)

// clientMetrics holds prometheus metrics registered for a QueryClient.
type clientMetrics struct {
	lookups  *prometheus.CounterVec
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newClientMetrics(reg prometheus.Registerer) (*clientMetrics, error) {
	m := &clientMetrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchkit",
			Subsystem: "client",
			Name:      "lookups_total",
			Help:      "Submits by how they were served (hit, miss, joined, rejected).",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchkit",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Network requests by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "searchkit",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Network request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	if err := registerOrReuse(reg, &m.lookups); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.requests); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers a collector or reuses an existing one, so several
// clients (one per provider update) can share a registry.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			existing, ok := are.ExistingCollector.(T)
			if !ok {
				return errors.Newf("searchkit: metric already registered with incompatible type: %T", are.ExistingCollector)
			}
			*c = existing
			return nil
		}
		return errors.Wrap(err, "searchkit: register metric")
	}
	return nil
}

// observer provides logging and metrics for client operations.
type observer struct {
	logger  *slog.Logger
	metrics *clientMetrics
}

func newObserver(logger *slog.Logger, reg prometheus.Registerer) *observer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	o := &observer{logger: logger}
	if reg != nil {
		m, err := newClientMetrics(reg)
		if err != nil {
			logger.Warn("metrics disabled", "error", err)
		} else {
			o.metrics = m
		}
	}
	return o
}

func (o *observer) lookup(result string, fp Fingerprint) {
	if o.metrics != nil {
		o.metrics.lookups.WithLabelValues(result).Inc()
	}
	o.logger.Debug("search lookup", "result", result, "fingerprint", fp.Short())
}

func (o *observer) request(fp Fingerprint, start time.Time, err error) {
	outcome := outcomeOf(err)
	dur := time.Since(start)

	if o.metrics != nil {
		o.metrics.requests.WithLabelValues(outcome).Inc()
		o.metrics.duration.WithLabelValues(outcome).Observe(dur.Seconds())
	}

	switch outcome {
	case "ok":
		o.logger.Debug("search request completed", "fingerprint", fp.Short(), "duration", dur)
	case "canceled":
		o.logger.Debug("search request canceled", "fingerprint", fp.Short(), "duration", dur)
	default:
		o.logger.Warn("search request failed",
			"fingerprint", fp.Short(),
			"outcome", outcome,
			"duration", dur,
			"error", err,
		)
	}
}

func outcomeOf(err error) string {
	switch CodeOf(err) {
	case ErrCodeUnknown:
		if err == nil {
			return "ok"
		}
		return "transport_error"
	case ErrCodeCanceled:
		return "canceled"
	case ErrCodeService:
		return "service_error"
	case ErrCodeMalformedResponse:
		return "malformed"
	case ErrCodeConfig:
		return "config_error"
	default:
		return "transport_error"
	}
}
