// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package obstrace

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ExporterKind selects where span/metric telemetry is sent. Chosen via the
// ORCHESTRATOR_OTEL_EXPORTER environment variable.
type ExporterKind string

const (
	// ExporterNone disables span export; the SDK tracer provider still
	// creates spans but has no exporter attached.
	ExporterNone ExporterKind = "none"
	// ExporterStdout writes spans as JSON to stdout, for local debugging.
	ExporterStdout ExporterKind = "stdout"
	// ExporterOTLPGRPC exports spans over OTLP/gRPC.
	ExporterOTLPGRPC ExporterKind = "otlp-grpc"
	// ExporterOTLPHTTP exports spans over OTLP/HTTP.
	ExporterOTLPHTTP ExporterKind = "otlp-http"
)

// ExporterKindFromEnv reads ORCHESTRATOR_OTEL_EXPORTER, defaulting to none
// so a bare `go run` of the daemon never blocks trying to dial a collector.
func ExporterKindFromEnv() ExporterKind {
	switch ExporterKind(os.Getenv("ORCHESTRATOR_OTEL_EXPORTER")) {
	case ExporterStdout:
		return ExporterStdout
	case ExporterOTLPGRPC:
		return ExporterOTLPGRPC
	case ExporterOTLPHTTP:
		return ExporterOTLPHTTP
	default:
		return ExporterNone
	}
}

// Provider wraps the OpenTelemetry tracer and meter providers used across
// the HTTP surface (C8) and the job worker's tracing span.
type Provider struct {
	tp *sdktrace.TracerProvider
	mp *metric.MeterProvider
}

// NewProvider builds a Provider for serviceName/version using the span
// exporter selected by kind. The meter provider always reports through the
// Prometheus bridge, registered on the default registry alongside the
// promauto counters in metrics.go so one GET /metrics serves both.
func NewProvider(ctx context.Context, serviceName, version string, kind ExporterKind) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("obstrace: build resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	exporter, err := newSpanExporter(ctx, kind)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	promExporter, err := otelprometheus.New()
	if err != nil {
		return nil, fmt.Errorf("obstrace: build prometheus metric exporter: %w", err)
	}

	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(promExporter),
	)

	return &Provider{tp: tp, mp: mp}, nil
}

func newSpanExporter(ctx context.Context, kind ExporterKind) (sdktrace.SpanExporter, error) {
	switch kind {
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("obstrace: build stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLPGRPC:
		exp, err := otlptracegrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("obstrace: build otlp/grpc exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLPHTTP:
		exp, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("obstrace: build otlp/http exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, nil
	}
}

// Tracer returns a tracer for the job worker span (jobrunner.WithTracer)
// and any other instrumented component.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// MetricsHandler serves the combined Prometheus registry: the OTel metric
// bridge's output plus every promauto counter registered in metrics.go.
func (p *Provider) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes pending spans and releases both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return err
	}
	return p.mp.Shutdown(ctx)
}
