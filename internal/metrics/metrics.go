// Package metrics exposes the OpenTelemetry instruments RequestHandler
// records against. With no SDK registered via otel.SetMeterProvider, every
// instrument is a documented no-op — an embedding application opts into
// real export by registering a MeterProvider before cache.Open runs.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/thebtf/semcache"

// Recorder wraps the counters and histogram RequestHandler updates once
// per request.
type Recorder struct {
	requests metric.Int64Counter
	hits     metric.Int64Counter
	misses   metric.Int64Counter
	errors   metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewRecorder builds a Recorder against the global MeterProvider.
func NewRecorder() (*Recorder, error) {
	meter := otel.Meter(instrumentationName)

	requests, err := meter.Int64Counter("semcache.requests",
		metric.WithDescription("requests handled, by type"))
	if err != nil {
		return nil, err
	}
	hits, err := meter.Int64Counter("semcache.query.hits",
		metric.WithDescription("query requests answered from cache"))
	if err != nil {
		return nil, err
	}
	misses, err := meter.Int64Counter("semcache.query.misses",
		metric.WithDescription("query requests with no accepted candidate"))
	if err != nil {
		return nil, err
	}
	errors, err := meter.Int64Counter("semcache.errors",
		metric.WithDescription("requests that returned a non-success error code"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("semcache.request.duration",
		metric.WithDescription("request handling latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Recorder{requests: requests, hits: hits, misses: misses, errors: errors, latency: latency}, nil
}

// RecordRequest records one completed request of reqType, its outcome, and
// how long it took.
func (r *Recorder) RecordRequest(ctx context.Context, reqType string, cacheHit, success bool, seconds float64) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("type", reqType))
	r.requests.Add(ctx, 1, attrs)
	r.latency.Record(ctx, seconds, attrs)

	if !success {
		r.errors.Add(ctx, 1, attrs)
		return
	}
	if reqType != "query" {
		return
	}
	if cacheHit {
		r.hits.Add(ctx, 1)
	} else {
		r.misses.Add(ctx, 1)
	}
}
