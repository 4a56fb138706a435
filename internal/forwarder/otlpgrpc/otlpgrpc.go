package otlpgrpc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hnakamur/ltsvlog"
	"github.com/masa23/metricforward/internal/forwarder"
	"github.com/masa23/metricforward/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const backendName = "otlpgrpc"

type OtlpGrpcForwarder struct {
	config       *OtlpGrpcForwarderConfig
	otlpExporter *otlpmetricgrpc.Exporter
	res          *resource.Resource
}

var _ forwarder.Forwarder = (*OtlpGrpcForwarder)(nil)

type OtlpGrpcForwarderConfig struct {
	URL                string
	TLS                *TLSConfig
	ResourceAttributes map[string]string
	Now                func() time.Time
}

func NewOtlpGrpcForwarder(ctx context.Context, config *OtlpGrpcForwarderConfig) (*OtlpGrpcForwarder, error) {
	conn, err := Dial(config.URL, config.TLS)
	if err != nil {
		return nil, err
	}
	otlpExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		conn.Close()
		return nil, err
	}
	res, err := newResource(ctx, config.ResourceAttributes)
	if err != nil {
		_ = otlpExporter.Shutdown(ctx)
		return nil, err
	}

	c := *config
	if c.Now == nil {
		c.Now = time.Now
	}
	return &OtlpGrpcForwarder{
		config:       &c,
		otlpExporter: otlpExporter,
		res:          res,
	}, nil
}

func newResource(ctx context.Context, attrs map[string]string) (*resource.Resource, error) {
	instanceID, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	attributes := []attribute.KeyValue{semconv.ServiceInstanceID(instanceID.String())}
	for k, v := range attrs {
		attributes = append(attributes, attribute.String(k, v))
	}
	return resource.New(ctx, resource.WithAttributes(attributes...))
}

// ForwardMetrics exports ms as one ResourceMetrics request.
func (f *OtlpGrpcForwarder) ForwardMetrics(ctx context.Context, ms metrics.AggregatedMetrics) error {
	ltsvlog.Logger.Debug().Fmt("msg", "Sending %d metrics to otlpgrpc", len(ms)).Log()
	err := f.otlpExporter.Export(ctx, &metricdata.ResourceMetrics{
		Resource: f.res,
		ScopeMetrics: []metricdata.ScopeMetrics{{
			Metrics: convertOtlpMetrics(ms, f.config.Now()),
		}},
	})
	if err != nil {
		return &forwarder.TransportError{Backend: backendName, Err: err}
	}
	return nil
}

func (f *OtlpGrpcForwarder) Close(ctx context.Context) error {
	if err := f.otlpExporter.ForceFlush(ctx); err != nil {
		ltsvlog.Logger.Err(err)
	}
	return f.otlpExporter.Shutdown(ctx)
}

// convertOtlpMetrics reports counts as delta sums and everything else as
// gauges, all observed at now.
func convertOtlpMetrics(ms metrics.AggregatedMetrics, now time.Time) []metricdata.Metrics {
	ometrics := make([]metricdata.Metrics, 0, len(ms))
	for _, m := range ms {
		points := []metricdata.DataPoint[float64]{{Time: now, Value: m.Value}}

		var data metricdata.Aggregation
		switch m.Type {
		case metrics.Count:
			data = metricdata.Sum[float64]{
				DataPoints:  points,
				Temporality: metricdata.DeltaTemporality,
				IsMonotonic: true,
			}
		default:
			data = metricdata.Gauge[float64]{DataPoints: points}
		}

		ometrics = append(ometrics, metricdata.Metrics{
			Name: m.Name,
			Data: data,
		})
	}
	return ometrics
}
