// Package telemetry wires the engine's execution events into
// OpenTelemetry metrics, exported for Prometheus scraping.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "flowengine"

	metricWorkflowExecutions = "workflow.executions.total"
	metricWorkflowDuration   = "workflow.execution.duration"
	metricNodeExecutions     = "node.executions.total"
	metricNodeDuration       = "node.execution.duration"
	metricHTTPCalls          = "http.calls.total"
	metricHTTPDuration       = "http.call.duration"
)

// Provider owns the OpenTelemetry meter and the instruments derived
// from it, and implements internal/engine.ExecutionRecorder so an
// Engine can report directly into it.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter

	workflowExecutions metric.Int64Counter
	workflowDuration   metric.Float64Histogram
	nodeExecutions     metric.Int64Counter
	nodeDuration       metric.Float64Histogram
	httpCalls          metric.Int64Counter
	httpDuration       metric.Float64Histogram

	mu sync.RWMutex
}

// Config carries the service version and environment recorded as
// resource attributes on everything a Provider exports.
type Config struct {
	ServiceVersion string
	Environment    string
}

// DefaultConfig returns the configuration used when main.go doesn't
// override it.
func DefaultConfig() Config {
	return Config{ServiceVersion: "0.1.0", Environment: "development"}
}

// NewProvider builds a Provider backed by a Prometheus exporter.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: create prometheus exporter: %w", err)
	}

	p := &Provider{
		meterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		),
	}
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(serviceName)
	p.tracer = otel.Tracer(serviceName)

	if err := p.createInstruments(); err != nil {
		return nil, fmt.Errorf("telemetry: create instruments: %w", err)
	}
	return p, nil
}

func (p *Provider) createInstruments() error {
	var err error

	if p.workflowExecutions, err = p.meter.Int64Counter(metricWorkflowExecutions,
		metric.WithDescription("Total number of workflow executions")); err != nil {
		return err
	}
	if p.workflowDuration, err = p.meter.Float64Histogram(metricWorkflowDuration,
		metric.WithDescription("Workflow execution duration"), metric.WithUnit("ms")); err != nil {
		return err
	}
	if p.nodeExecutions, err = p.meter.Int64Counter(metricNodeExecutions,
		metric.WithDescription("Total number of node executions")); err != nil {
		return err
	}
	if p.nodeDuration, err = p.meter.Float64Histogram(metricNodeDuration,
		metric.WithDescription("Node execution duration"), metric.WithUnit("ms")); err != nil {
		return err
	}
	if p.httpCalls, err = p.meter.Int64Counter(metricHTTPCalls,
		metric.WithDescription("Total number of HTTP task-primitive calls")); err != nil {
		return err
	}
	if p.httpDuration, err = p.meter.Float64Histogram(metricHTTPDuration,
		metric.WithDescription("HTTP task-primitive call duration"), metric.WithUnit("ms")); err != nil {
		return err
	}
	return nil
}

// Tracer returns the tracer used for node/workflow spans.
func (p *Provider) Tracer() trace.Tracer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tracer
}

// StartSpan implements internal/engine.ExecutionRecorder, opening a span
// via the provider's tracer and returning a closer that records err (if
// any) as the span's status before ending it.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, func(err error)) {
	tracer := p.Tracer()
	if tracer == nil {
		return ctx, func(error) {}
	}
	spanCtx, span := tracer.Start(ctx, name)
	return spanCtx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Meter returns the meter instruments are registered against.
func (p *Provider) Meter() metric.Meter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meter
}

// RecordWorkflowExecution implements internal/engine.ExecutionRecorder.
func (p *Provider) RecordWorkflowExecution(ctx context.Context, workflowName string, duration time.Duration, status string, nodeCount int) {
	if p.meter == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("workflow.name", workflowName),
		attribute.String("status", status),
		attribute.Int("nodes.executed", nodeCount),
	)
	p.workflowExecutions.Add(ctx, 1, attrs)
	p.workflowDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordNodeExecution implements internal/engine.ExecutionRecorder.
func (p *Provider) RecordNodeExecution(ctx context.Context, nodeName, nodeType string, duration time.Duration, status string) {
	if p.meter == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("node.name", nodeName),
		attribute.String("node.type", nodeType),
		attribute.String("status", status),
	)
	p.nodeExecutions.Add(ctx, 1, attrs)
	p.nodeDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordHTTPCall records one attempt of the http task primitive.
func (p *Provider) RecordHTTPCall(ctx context.Context, method, url string, statusCode int, duration time.Duration) {
	if p.meter == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", url),
		attribute.Int("http.status_code", statusCode),
	)
	p.httpCalls.Add(ctx, 1, attrs)
	p.httpDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// Shutdown flushes and releases the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.meterProvider != nil {
		return p.meterProvider.Shutdown(ctx)
	}
	return nil
}
