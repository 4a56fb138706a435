package datadog

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/masa23/metricforward/internal/forwarder"
	"github.com/masa23/metricforward/internal/metrics"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
)

const ts = int64(1700000000)

func TestSerializeScenario(t *testing.T) {
	ms := metrics.AggregatedMetrics{
		{Type: metrics.Count, Name: "requests", Value: 5.0},
		{Type: metrics.Measure, Name: "latency_ms", Value: 12.3},
	}
	body, err := Serialize(ms, ts).Encode()
	require.NoError(t, err)

	require.JSONEq(t,
		`{"series":[{"metric":"requests","type":"counter","points":[[1700000000,5.0]]},{"metric":"latency_ms","type":"gauge","points":[[1700000000,12.3]]}]}`,
		string(body))
}

func TestSerializeEmpty(t *testing.T) {
	body, err := Serialize(nil, ts).Encode()
	require.NoError(t, err)
	require.Equal(t, `{"series":[]}`, string(body))

	body, err = Serialize(metrics.AggregatedMetrics{}, ts).Encode()
	require.NoError(t, err)
	require.Equal(t, `{"series":[]}`, string(body))
}

func TestSerializeTypeMapping(t *testing.T) {
	cases := map[metrics.MetricType]string{
		metrics.Count:   "counter",
		metrics.Measure: "gauge",
		metrics.Sample:  "gauge",
	}
	for mt, want := range cases {
		p := Serialize(metrics.AggregatedMetrics{{Type: mt, Name: "m", Value: 1}}, ts)
		require.Equal(t, want, p.Series[0].Type, mt.String())
	}
}

func TestSerializeUnknownTypePanics(t *testing.T) {
	require.Panics(t, func() {
		Serialize(metrics.AggregatedMetrics{{Type: metrics.MetricType(42), Name: "m"}}, ts)
	})
}

func TestSerializeOrderAndSharedTimestamp(t *testing.T) {
	ms := make(metrics.AggregatedMetrics, 0, 50)
	for i := 0; i < 50; i++ {
		ms = append(ms, metrics.Metric{
			Type:  metrics.MetricType(i % 3),
			Name:  string(rune('a' + i%26)),
			Value: float64(i),
		})
	}
	p := Serialize(ms, ts)
	require.Len(t, p.Series, len(ms))
	for i, s := range p.Series {
		require.Equal(t, ms[i].Name, s.Metric)
		require.Len(t, s.Points, 1)
		require.Equal(t, ts, s.Points[0].Timestamp)
		require.Equal(t, ms[i].Value, s.Points[0].Value)
	}
}

func TestSerializePassesInvalidNamesThrough(t *testing.T) {
	p := Serialize(metrics.AggregatedMetrics{{Type: metrics.Sample, Name: "", Value: -1}}, ts)
	require.Equal(t, "", p.Series[0].Metric)
	require.Equal(t, -1.0, p.Series[0].Points[0].Value)
}

func TestEncodeSchema(t *testing.T) {
	ms := metrics.AggregatedMetrics{
		{Type: metrics.Count, Name: "requests", Value: 5},
		{Type: metrics.Sample, Name: "queue.depth", Value: 0.25},
	}
	body, err := Serialize(ms, ts).Encode()
	require.NoError(t, err)

	var parser fastjson.Parser
	v, err := parser.ParseBytes(body)
	require.NoError(t, err)

	root, err := v.Object()
	require.NoError(t, err)
	require.Equal(t, 1, root.Len())

	series := v.GetArray("series")
	require.Len(t, series, 2)
	for i, s := range series {
		o, err := s.Object()
		require.NoError(t, err)
		require.Equal(t, 3, o.Len())
		require.Equal(t, ms[i].Name, string(s.GetStringBytes("metric")))
		require.Equal(t, fastjson.TypeString, s.Get("type").Type())

		points := s.GetArray("points")
		require.Len(t, points, 1)
		pair := points[0].GetArray()
		require.Len(t, pair, 2)
		require.Equal(t, fastjson.TypeNumber, pair[0].Type())
		require.Equal(t, fastjson.TypeNumber, pair[1].Type())
		require.Equal(t, ts, s.GetInt64("points", "0", "0"))
		require.Equal(t, ms[i].Value, s.GetFloat64("points", "0", "1"))
	}
}

func TestPointRoundTrip(t *testing.T) {
	in := Serialize(metrics.AggregatedMetrics{
		{Type: metrics.Count, Name: "requests", Value: 5},
		{Type: metrics.Measure, Name: "latency_ms", Value: 12.3},
	}, ts)
	body, err := in.Encode()
	require.NoError(t, err)

	var out Payload
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, in, out)
}

func TestPointUnmarshalRejectsBadShape(t *testing.T) {
	var p Point
	require.Error(t, json.Unmarshal([]byte(`[1700000000]`), &p))
	require.Error(t, json.Unmarshal([]byte(`[1.5, 2]`), &p))
	require.Error(t, json.Unmarshal([]byte(`{"t":1}`), &p))
}

func TestEncodeNaN(t *testing.T) {
	_, err := Serialize(metrics.AggregatedMetrics{{Type: metrics.Measure, Name: "bad", Value: math.NaN()}}, ts).Encode()
	require.Error(t, err)
	var ee *forwarder.EncodeError
	require.True(t, errors.As(err, &ee))
	require.Equal(t, "Datadog", ee.Backend)
}
