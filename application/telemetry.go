// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Propensity-Score Methods for Observational Causal Effect Estimation
// Class: 02-613 at Caregie Mellon University

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// tracer resolves through the global provider, a no-op until setupTracing runs
var tracer = otel.Tracer("obscausal")

// recordSpanError marks the span as failed.
func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// setupTracing installs a tracer provider that writes finished spans to w.
// The returned function flushes and shuts it down.
func setupTracing(w io.Writer) (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// newLogger returns a text slog.Logger at the named level
// (debug, info, warn, error).
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q: %w", level, ErrConfig)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// runMetrics holds the Prometheus collectors of one run. A nil *runMetrics
// is valid and records nothing.
type runMetrics struct {
	registry *prometheus.Registry

	fitTotal      *prometheus.CounterVec
	fitDuration   *prometheus.HistogramVec
	fitIterations *prometheus.HistogramVec

	replicateTotal    *prometheus.CounterVec
	replicateDuration prometheus.Histogram
}

func newRunMetrics() *runMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &runMetrics{
		registry: reg,

		fitTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "obscausal_model_fits_total",
			Help: "Model fits by model role",
		}, []string{"model"}),

		fitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "obscausal_model_fit_duration_seconds",
			Help:    "Model fit duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"model"}),

		fitIterations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "obscausal_model_fit_iterations",
			Help:    "IRLS iterations per model fit",
			Buckets: []float64{1, 2, 3, 5, 8, 12, 25},
		}, []string{"model"}),

		replicateTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "obscausal_bootstrap_replicates_total",
			Help: "Bootstrap replicates by result",
		}, []string{"result"}),

		replicateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "obscausal_bootstrap_replicate_duration_seconds",
			Help:    "Bootstrap replicate duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}

func (m *runMetrics) observeFit(model string, fit *GLMFit, d time.Duration) {
	if m == nil {
		return
	}
	m.fitTotal.WithLabelValues(model).Inc()
	m.fitDuration.WithLabelValues(model).Observe(d.Seconds())
	m.fitIterations.WithLabelValues(model).Observe(float64(fit.Iterations))
}

func (m *runMetrics) observeReplicate(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.replicateTotal.WithLabelValues(result).Inc()
	m.replicateDuration.Observe(d.Seconds())
}

// writeTextfile dumps the registry in the Prometheus text format.
func (m *runMetrics) writeTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
