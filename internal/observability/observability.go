// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for vaultchat runs.
// All components are optional and nil-safe: when disabled, wrappers
// skip recording with a single nil check per operation.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/vaultchat/internal/config"
	"github.com/jkaninda/vaultchat/internal/failure"
)

// Observability is the top-level facade holding all observability components.
// Any field may be nil when that feature is disabled.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup

	metricsCfg config.MetricsConfig
	logger     *slog.Logger
}

// New creates an Observability instance from config.
// Returns nil when the config is nil (all features disabled).
func New(ctx context.Context, cfg *config.ObservabilityConfig, version string, logger *slog.Logger) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	obs := &Observability{metricsCfg: cfg.Metrics, logger: logger}

	// Metrics.
	if cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
	}

	// Tracing.
	if cfg.Tracing.Enabled {
		ts, err := NewTracerSetup(ctx, &cfg.Tracing, version)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}

	return obs, nil
}

// TracerOrNil returns the tracer setup or nil if tracing is disabled.
func (o *Observability) TracerOrNil() *TracerSetup {
	if o == nil {
		return nil
	}
	return o.Tracer
}

// MetricsOrNil returns the metrics collector or nil if metrics are disabled.
func (o *Observability) MetricsOrNil() *MetricsCollector {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// StartRun opens the root span for one run.
func (o *Observability) StartRun(ctx context.Context, runID string) (context.Context, func(error)) {
	if o == nil || o.Tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.Tracer.Tracer().Start(ctx, "vaultchat.run",
		trace.WithAttributes(attribute.String("run.id", runID)))
	return ctx, func(err error) {
		if err != nil {
			recordSpanError(span, err)
		}
		span.End()
	}
}

// Stage runs fn as a named bootstrap stage, recording a span, a duration
// and an outcome counter labelled with the failure kind.
func (o *Observability) Stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if o == nil {
		return fn(ctx)
	}

	var span trace.Span
	if o.Tracer != nil {
		ctx, span = o.Tracer.Tracer().Start(ctx, "stage."+name)
		defer span.End()
	}

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start).Seconds()

	if span != nil && err != nil {
		recordSpanError(span, err)
	}
	if o.Metrics != nil {
		status, kind := "success", ""
		if err != nil {
			status = "error"
			kind = statusOf(err)
		}
		o.Metrics.StageTotal.WithLabelValues(name, status, kind).Inc()
		o.Metrics.StageDuration.WithLabelValues(name).Observe(duration)
	}
	return err
}

// RecordRun records the outcome of a whole run.
func (o *Observability) RecordRun(err error) {
	if o == nil || o.Metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		if kind, ok := failure.KindOf(err); ok {
			outcome = string(kind)
		} else if errors.Is(err, context.Canceled) {
			outcome = "canceled"
		}
	}
	o.Metrics.RunsTotal.WithLabelValues(outcome).Inc()
	o.Metrics.LastRunTimestamp.SetToCurrentTime()
	if err == nil {
		o.Metrics.LastRunSuccessful.Set(1)
	} else {
		o.Metrics.LastRunSuccessful.Set(0)
	}
}

// Flush writes collected metrics to the configured node_exporter textfile
// and/or Pushgateway.
func (o *Observability) Flush(ctx context.Context) error {
	if o == nil || o.Metrics == nil {
		return nil
	}
	var errs []error
	if path := o.metricsCfg.TextfilePath; path != "" {
		if err := prometheus.WriteToTextfile(path, o.Metrics.Registry); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics textfile %s: %w", path, err))
		} else {
			o.logger.Debug("metrics written", slog.String("path", path))
		}
	}
	if url := o.metricsCfg.PushgatewayURL; url != "" {
		// Push replaces the job's group, so the gateway holds the last run.
		pusher := push.New(url, o.metricsCfg.Job).Gatherer(o.Metrics.Registry)
		if err := pusher.PushContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pushing metrics to %s: %w", url, err))
		} else {
			o.logger.Debug("metrics pushed", slog.String("url", url))
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes metrics and releases tracing resources.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil {
		return
	}
	if err := o.Flush(ctx); err != nil {
		o.logger.Warn("metrics export failed", slog.String("error", err.Error()))
	}
	if o.Tracer != nil {
		if err := o.Tracer.Shutdown(ctx); err != nil {
			o.logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}
}
