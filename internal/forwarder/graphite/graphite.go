package graphite

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hnakamur/ltsvlog"
	"github.com/marpaia/graphite-golang"
	"github.com/masa23/metricforward/internal/forwarder"
	"github.com/masa23/metricforward/internal/metrics"
)

const backendName = "Graphite"

type GraphiteForwarder struct {
	config *GraphiteForwarderConfig

	// graphite.Graphite shares one connection
	mu sync.Mutex
	g  *graphite.Graphite
}

var _ forwarder.Forwarder = (*GraphiteForwarder)(nil)

type GraphiteForwarderConfig struct {
	Prefix string
	Host   string
	Port   int
	Now    func() time.Time
}

func NewGraphiteForwarder(config *GraphiteForwarderConfig) (*GraphiteForwarder, error) {
	g, err := graphite.NewGraphite(config.Host, config.Port)
	if err != nil {
		return nil, err
	}
	c := *config
	if c.Now == nil {
		c.Now = time.Now
	}
	return &GraphiteForwarder{config: &c, g: g}, nil
}

// ForwardMetrics sends ms once. After a failed write the connection is
// reopened so that the next snapshot starts on a fresh one.
func (f *GraphiteForwarder) ForwardMetrics(ctx context.Context, ms metrics.AggregatedMetrics) error {
	ltsvlog.Logger.Debug().Fmt("msg", "Sending %d metrics to Graphite", len(ms)).Log()
	gmetrics := f.convertGraphiteMetrics(ms, f.config.Now().Unix())
	if len(gmetrics) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.g.SendMetrics(gmetrics); err != nil {
		if cerr := f.g.Connect(); cerr != nil {
			ltsvlog.Logger.Info().Fmt("msg", "failed to reconnect graphite err=%s", cerr.Error()).Log()
		}
		return &forwarder.TransportError{Backend: backendName, Err: err}
	}
	return nil
}

func (f *GraphiteForwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.g.Disconnect()
}

func (f *GraphiteForwarder) convertGraphiteMetrics(ms metrics.AggregatedMetrics, timestamp int64) []graphite.Metric {
	gmetrics := make([]graphite.Metric, 0, len(ms))
	for _, m := range ms {
		prec := 3
		if m.Type == metrics.Count {
			prec = -1
		}
		name := m.Name
		if f.config.Prefix != "" {
			name = fmt.Sprintf("%s.%s", f.config.Prefix, m.Name)
		}
		gmetrics = append(gmetrics, graphite.Metric{
			Name:      name,
			Value:     strconv.FormatFloat(m.Value, 'f', prec, 64),
			Timestamp: timestamp,
		})
	}
	return gmetrics
}
