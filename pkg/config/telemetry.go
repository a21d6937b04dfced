package config

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/fpvtiming/racehub/log"
	"github.com/fpvtiming/racehub/version"
)

type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
}

// SetupTelemetry initializes the OTLP metric pipeline and registers it
// as the global meter provider. The returned Telemetry must be shut
// down on server termination.
func SetupTelemetry(ctx context.Context) (*Telemetry, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(TelemetryEndpoint),
		otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("racehub"),
			semconv.ServiceVersion(version.Version),
		))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(mp)
	return &Telemetry{meterProvider: mp}, nil
}

func (t *Telemetry) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.meterProvider.Shutdown(ctx); err != nil {
		log.Warn("error shutting down meter provider", log.ErrorField(err))
	}
}
