package main

import (
	"context"

	"github.com/hnakamur/errstack"

	"github.com/masa23/metricforward"
	"github.com/masa23/metricforward/internal/forwarder"
	"github.com/masa23/metricforward/internal/forwarder/datadog"
	"github.com/masa23/metricforward/internal/forwarder/graphite"
	"github.com/masa23/metricforward/internal/forwarder/otlpgrpc"
)

func tlsConfig(c metricforward.ConfigTLS) *otlpgrpc.TLSConfig {
	return &otlpgrpc.TLSConfig{
		Insecure:             c.Insecure,
		CACertificate:        c.CACertificate,
		ClientCertificate:    c.ClientCertificate,
		ClientCertificateKey: c.ClientCertificateKey,
	}
}

// newForwarder builds the backend named by Forwarder.Type. The returned
// close function releases its connection.
func newForwarder(ctx context.Context, conf *metricforward.Config) (forwarder.Forwarder, func(context.Context) error, error) {
	fc := conf.Forwarder
	switch fc.Type {
	case metricforward.ForwarderDatadog:
		f, err := datadog.NewDatadogForwarder(&datadog.DatadogForwarderConfig{
			APIKey:  fc.Datadog.APIKey,
			BaseURL: fc.Datadog.BaseURL,
			Timeout: fc.Datadog.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return f, nil, nil
	case metricforward.ForwarderGraphite:
		f, err := graphite.NewGraphiteForwarder(&graphite.GraphiteForwarderConfig{
			Prefix: fc.Graphite.Prefix,
			Host:   fc.Graphite.Host,
			Port:   fc.Graphite.Port,
		})
		if err != nil {
			return nil, nil, errstack.WithLV(errstack.Errorf("%s err=%+v", "graphite connection error", err))
		}
		return f, func(context.Context) error { return f.Close() }, nil
	case metricforward.ForwarderOtlpGrpc:
		f, err := otlpgrpc.NewOtlpGrpcForwarder(ctx, &otlpgrpc.OtlpGrpcForwarderConfig{
			URL:                fc.OtlpGrpc.URL,
			TLS:                tlsConfig(fc.OtlpGrpc.TLS),
			ResourceAttributes: fc.OtlpGrpc.ResourceAttributes,
		})
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
	return nil, nil, errstack.Errorf("forwarder type %s is unsupported", fc.Type)
}
