package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hnakamur/ltsvlog"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/masa23/metricforward"
	"github.com/masa23/metricforward/internal/forwarder/otlpgrpc"
)

// initOtelMetrics reports the process's own runtime metrics, independent of
// the forwarder that carries the log metrics.
func initOtelMetrics(ctx context.Context, conf *metricforward.Config) (shutdown func(ctx context.Context) error, err error) {
	conn, err := otlpgrpc.Dial(conf.SelfTelemetry.URL, tlsConfig(conf.SelfTelemetry.TLS))
	if err != nil {
		return nil, err
	}

	instanceID, err := uuid.NewRandom()
	if err != nil {
		conn.Close()
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithOS(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName("metricforward"),
			semconv.ServiceInstanceID(instanceID.String()),
		),
	)
	if err != nil {
		conn.Close()
		return nil, err
	}

	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		conn.Close()
		return nil, err
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter)),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
		if err := mp.Shutdown(ctx); err != nil {
			ltsvlog.Logger.Err(err)
		}
		conn.Close()
		return nil, err
	}
	return func(ctx context.Context) error {
		defer conn.Close()
		return mp.Shutdown(ctx)
	}, nil
}
