package orcaobs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meter holds the package-level OTel meter used by metric recording functions.
var meter metric.Meter

// Pre-registered instruments for pipeline node execution.
var (
	cacheHitCounter  metric.Int64Counter
	cacheMissCounter metric.Int64Counter
	invokeDuration   metric.Float64Histogram

	meterOnce sync.Once
	meterErr  error
)

func init() {
	meter = otel.Meter("github.com/brianarnold/orcapod/orcaobs")
}

// initInstruments lazily creates the pre-defined metric instruments. This is
// deferred so callers can configure the meter provider before first use.
func initInstruments() error {
	meterOnce.Do(func() {
		var err error

		cacheHitCounter, err = meter.Int64Counter(
			"orcapod.pod.cache_hit",
			metric.WithDescription("Number of node executions served from the store without recomputation"),
			metric.WithUnit("{invocation}"),
		)
		if err != nil {
			meterErr = err
			return
		}

		cacheMissCounter, err = meter.Int64Counter(
			"orcapod.pod.cache_miss",
			metric.WithDescription("Number of node executions that recomputed their output"),
			metric.WithUnit("{invocation}"),
		)
		if err != nil {
			meterErr = err
			return
		}

		invokeDuration, err = meter.Float64Histogram(
			"orcapod.pod.invoke_duration_ms",
			metric.WithDescription("Duration of a single node's materialization"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			meterErr = err
			return
		}
	})
	return meterErr
}

// InitMeter configures the package-level meter with the given service name.
// This should be called after setting up the OTel meter provider. If not
// called, the default global meter provider is used.
func InitMeter(serviceName string) error {
	meter = otel.Meter(
		"github.com/brianarnold/orcapod/orcaobs",
		metric.WithInstrumentationAttributes(
			attribute.String("service.name", serviceName),
		),
	)
	meterOnce = sync.Once{}
	meterErr = nil
	return initInstruments()
}

// CacheHit records that a node's output was served from the store.
func CacheHit(ctx context.Context, nodeLabel string) {
	if err := initInstruments(); err != nil {
		return
	}
	cacheHitCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrNodeLabel, nodeLabel)))
}

// CacheMiss records that a node's output had to be recomputed.
func CacheMiss(ctx context.Context, nodeLabel string) {
	if err := initInstruments(); err != nil {
		return
	}
	cacheMissCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrNodeLabel, nodeLabel)))
}

// InvokeDuration records how long a node's materialization took, in
// milliseconds.
func InvokeDuration(ctx context.Context, nodeLabel string, durationMs float64) {
	if err := initInstruments(); err != nil {
		return
	}
	invokeDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String(AttrNodeLabel, nodeLabel)))
}

// Counter records an increment to an arbitrary named counter metric, for
// callers instrumenting something outside the pre-registered set above.
func Counter(ctx context.Context, name string, value int64) {
	c, err := meter.Int64Counter(name)
	if err != nil {
		return
	}
	c.Add(ctx, value)
}

// Histogram records a value to an arbitrary named histogram metric.
func Histogram(ctx context.Context, name string, value float64) {
	h, err := meter.Float64Histogram(name)
	if err != nil {
		return
	}
	h.Record(ctx, value)
}
