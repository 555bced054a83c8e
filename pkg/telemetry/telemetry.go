// Package telemetry wires an OTLP metric exporter for the analytics counters.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"wabridge/pkg/config"
)

const serviceName = "wabridge"

// ErrNoEndpoint is returned when telemetry is enabled without an endpoint.
var ErrNoEndpoint = errors.New("telemetry enabled but no OTLP endpoint configured")

// Provider owns the meter used by analytics. When export is disabled the
// meter is a no-op and Shutdown does nothing.
type Provider struct {
	meter    metric.Meter
	shutdown func(context.Context) error
}

func (p *Provider) Meter() metric.Meter { return p.meter }

// Shutdown flushes pending metrics and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// Disabled returns a provider that records nothing.
func Disabled() *Provider {
	return &Provider{meter: noop.NewMeterProvider().Meter(serviceName)}
}

// Setup builds the OTLP/gRPC metric pipeline described by cfg and installs it
// as the global meter provider.
func Setup(ctx context.Context, cfg config.TelemetryConfig, version string, log *slog.Logger) (*Provider, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "telemetry")

	if !cfg.Enabled {
		log.Debug("Metric export disabled")
		return Disabled(), nil
	}
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts,
			otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlpmetricgrpc.WithInsecure(),
		)
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	log.Info("Metric export enabled", "endpoint", cfg.Endpoint, "insecure", cfg.Insecure)

	return &Provider{
		meter:    provider.Meter(serviceName),
		shutdown: provider.Shutdown,
	}, nil
}
