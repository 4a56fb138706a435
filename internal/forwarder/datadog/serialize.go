package datadog

import (
	"encoding/json"
	"fmt"

	"github.com/masa23/metricforward/internal/forwarder"
	"github.com/masa23/metricforward/internal/metrics"
)

// Series types accepted by /v1/series.
const (
	TypeCounter = "counter"
	TypeGauge   = "gauge"
)

// Payload is the request body of POST /v1/series.
type Payload struct {
	Series []Series `json:"series"`
}

// Series is one metric with its points.
type Series struct {
	Metric string  `json:"metric"`
	Type   string  `json:"type"`
	Points []Point `json:"points"`
}

// Point encodes as [timestamp, value].
type Point struct {
	Timestamp int64
	Value     float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Timestamp, p.Value})
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var raw []json.Number
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("point must have 2 elements, got %d", len(raw))
	}
	ts, err := raw[0].Int64()
	if err != nil {
		return fmt.Errorf("point timestamp: %w", err)
	}
	v, err := raw[1].Float64()
	if err != nil {
		return fmt.Errorf("point value: %w", err)
	}
	p.Timestamp, p.Value = ts, v
	return nil
}

func seriesType(t metrics.MetricType) string {
	switch t {
	case metrics.Count:
		return TypeCounter
	case metrics.Measure, metrics.Sample:
		return TypeGauge
	}
	panic(fmt.Sprintf("datadog: unknown metric type %v", t))
}

// Serialize converts ms to a Payload. Every point carries timestamp, in
// seconds since the epoch; names and values are passed through unchecked.
func Serialize(ms metrics.AggregatedMetrics, timestamp int64) Payload {
	series := make([]Series, 0, len(ms))
	for _, m := range ms {
		series = append(series, Series{
			Metric: m.Name,
			Type:   seriesType(m.Type),
			Points: []Point{{Timestamp: timestamp, Value: m.Value}},
		})
	}
	return Payload{Series: series}
}

// Encode returns the JSON body. It fails only for values JSON cannot
// represent, such as NaN or ±Inf.
func (p Payload) Encode() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, &forwarder.EncodeError{Backend: backendName, Err: err}
	}
	return b, nil
}
