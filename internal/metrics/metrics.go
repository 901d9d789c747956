// Package metrics exposes Prometheus collectors for the
// collection pipeline. Collectors are always updated; they are
// only exported when Serve is called.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// RequestsTotal counts API calls by outcome class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrapped_api_requests_total",
			Help: "Total API requests sent, by outcome",
		},
		[]string{"outcome"},
	)

	// RequestDuration observes API call latency.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wrapped_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	// RetriesTotal counts retried calls by reason.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrapped_api_retries_total",
			Help: "Total retried API calls, by reason",
		},
		[]string{"reason"},
	)

	// RateLimitSleeps counts scheduling waits.
	RateLimitSleeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wrapped_rate_limit_sleeps_total",
			Help: "Total scheduling waits imposed by the rate governor",
		},
	)

	// RequestsPerMinute reports the governor's current budget.
	RequestsPerMinute = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wrapped_rate_limit_rpm",
			Help: "Current requests-per-minute budget",
		},
	)

	// SessionsFetched counts sessions whose activities were
	// collected.
	SessionsFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wrapped_sessions_fetched_total",
			Help: "Total sessions whose activities were collected",
		},
	)
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestDuration,
			RetriesTotal,
			RateLimitSleeps,
			RequestsPerMinute,
			SessionsFetched,
		)
	})
}

// Handler serves the default registry on /metrics.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve registers the collectors and exposes /metrics on addr
// until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	Register()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), 2*time.Second,
		)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("metrics server listening")
		if err := srv.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	return nil
}
