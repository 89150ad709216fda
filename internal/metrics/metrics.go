// Package metrics exposes relay counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's collectors on a private registry.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	// Published counts envelopes accepted by the broker.
	Published prometheus.Counter
	// Received counts messages taken off the subscription, valid or not.
	Received prometheus.Counter
	// Malformed counts received messages that failed to decode.
	Malformed prometheus.Counter
	// PublishRetries counts publish attempts after the first.
	PublishRetries prometheus.Counter
	// Errors counts policy decisions by error kind and action taken.
	Errors *prometheus.CounterVec
	// PublishDuration observes broker publish latency, retries included.
	PublishDuration prometheus.Histogram
}

// New registers the relay collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "topicrelay_events_published_total",
			Help: "Envelopes published to the broker",
		}),
		Received: f.NewCounter(prometheus.CounterOpts{
			Name: "topicrelay_events_received_total",
			Help: "Messages received from the subscription",
		}),
		Malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "topicrelay_envelopes_malformed_total",
			Help: "Received messages that were not valid envelopes",
		}),
		PublishRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "topicrelay_publish_retries_total",
			Help: "Publish attempts after the first",
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "topicrelay_errors_total",
			Help: "Errors by kind and the action taken",
		}, []string{"kind", "action"}),
		PublishDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "topicrelay_publish_duration_seconds",
			Help:    "Time to publish one envelope, retries included",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
	}
}

func (m *Metrics) IncPublished() {
	if m != nil {
		m.Published.Inc()
	}
}

func (m *Metrics) IncReceived() {
	if m != nil {
		m.Received.Inc()
	}
}

func (m *Metrics) IncMalformed() {
	if m != nil {
		m.Malformed.Inc()
	}
}

func (m *Metrics) IncPublishRetry() {
	if m != nil {
		m.PublishRetries.Inc()
	}
}

func (m *Metrics) IncError(kind, action string) {
	if m != nil {
		m.Errors.WithLabelValues(kind, action).Inc()
	}
}

func (m *Metrics) ObservePublish(d time.Duration) {
	if m != nil {
		m.PublishDuration.Observe(d.Seconds())
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
