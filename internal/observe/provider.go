package observe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig identifies the daemon in exported telemetry.
type ProviderConfig struct {
	// ServiceName defaults to "meetscribe".
	ServiceName string

	// ServiceVersion is optional.
	ServiceVersion string
}

// InitProvider installs the global OTel meter provider, bridged to the
// Prometheus registry so every instrument in this package lands on the
// daemon's /metrics endpoint. The daemon records no spans, so no tracer
// provider is set up.
//
// The returned function flushes and stops the meter provider; defer it from
// main with a short deadline.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res, err := serviceResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	bridge, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus bridge: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(bridge),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

// serviceResource merges the SDK defaults with the daemon's identity.
func serviceResource(cfg ProviderConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "meetscribe"
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
}
