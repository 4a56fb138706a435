package datadog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hnakamur/ltsvlog"
	"github.com/masa23/metricforward/internal/forwarder"
	"github.com/masa23/metricforward/internal/metrics"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Unix(1700000000, 0) }

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) handle(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func newTestForwarder(t *testing.T, baseURL string, sink *errorSink) *DatadogForwarder {
	t.Helper()
	f, err := NewDatadogForwarder(&DatadogForwarderConfig{
		APIKey:  "secret-key",
		BaseURL: baseURL,
		Now:     fixedNow,
		OnError: sink.handle,
	})
	require.NoError(t, err)
	return f
}

func TestForwardMetricsRequest(t *testing.T) {
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/series", r.URL.Path)
		require.Equal(t, "secret-key", r.URL.Query().Get("api_key"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = b
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	sink := &errorSink{}
	f := newTestForwarder(t, ts.URL+"/api/", sink)
	err := f.ForwardMetrics(context.Background(), metrics.AggregatedMetrics{
		{Type: metrics.Count, Name: "requests", Value: 5.0},
		{Type: metrics.Measure, Name: "latency_ms", Value: 12.3},
	})
	require.NoError(t, err)
	require.JSONEq(t,
		`{"series":[{"metric":"requests","type":"counter","points":[[1700000000,5.0]]},{"metric":"latency_ms","type":"gauge","points":[[1700000000,12.3]]}]}`,
		string(gotBody))
	require.Empty(t, sink.all())
}

func TestForwardMetricsOKReportsNothing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := &errorSink{}
	f := newTestForwarder(t, ts.URL, sink)
	require.NoError(t, f.ForwardMetrics(context.Background(), nil))
	require.Empty(t, sink.all())
}

func TestForwardMetricsRejectedReportsOnce(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":["Forbidden"]}`))
	}))
	defer ts.Close()

	sink := &errorSink{}
	f := newTestForwarder(t, ts.URL, sink)
	err := f.ForwardMetrics(context.Background(), metrics.AggregatedMetrics{
		{Type: metrics.Count, Name: "requests", Value: 1},
	})
	require.NoError(t, err)

	errs := sink.all()
	require.Len(t, errs, 1)
	var re *forwarder.RejectedError
	require.True(t, errors.As(errs[0], &re))
	require.Equal(t, http.StatusForbidden, re.StatusCode)
	require.Contains(t, errs[0].Error(), "403")
}

func TestForwardMetricsRejectedDefaultLogs(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	var buf bytes.Buffer
	orig := ltsvlog.Logger
	ltsvlog.Logger = ltsvlog.NewLTSVLogger(&buf, false)
	defer func() { ltsvlog.Logger = orig }()

	f, err := NewDatadogForwarder(&DatadogForwarderConfig{APIKey: "k", BaseURL: ts.URL, Now: fixedNow})
	require.NoError(t, err)
	require.NoError(t, f.ForwardMetrics(context.Background(), nil))
	require.Contains(t, buf.String(), "403")
}

func TestForwardMetricsTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	sink := &errorSink{}
	f := newTestForwarder(t, url, sink)
	err := f.ForwardMetrics(context.Background(), metrics.AggregatedMetrics{
		{Type: metrics.Count, Name: "requests", Value: 1},
	})
	require.Error(t, err)
	var te *forwarder.TransportError
	require.True(t, errors.As(err, &te))
	require.NotContains(t, err.Error(), "secret-key")
	require.Empty(t, sink.all())
}

func TestForwardMetricsContextCanceled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestForwarder(t, ts.URL, &errorSink{})
	err := f.ForwardMetrics(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestForwardMetricsEncodeError(t *testing.T) {
	var called atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer ts.Close()

	f := newTestForwarder(t, ts.URL, &errorSink{})
	err := f.ForwardMetrics(context.Background(), metrics.AggregatedMetrics{
		{Type: metrics.Measure, Name: "bad", Value: math.NaN()},
	})
	var ee *forwarder.EncodeError
	require.True(t, errors.As(err, &ee))
	require.False(t, called.Load())
}

func TestForwardMetricsConcurrent(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]bool{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies[string(b)] = true
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	sink := &errorSink{}
	f := newTestForwarder(t, ts.URL, sink)

	inputs := make([]metrics.AggregatedMetrics, 20)
	for i := range inputs {
		inputs[i] = metrics.AggregatedMetrics{
			{Type: metrics.Count, Name: strings.Repeat("a", i+1), Value: float64(i)},
			{Type: metrics.Sample, Name: strings.Repeat("b", i+1), Value: float64(i) / 2},
		}
	}

	var wg sync.WaitGroup
	for _, in := range inputs {
		wg.Add(1)
		go func(in metrics.AggregatedMetrics) {
			defer wg.Done()
			require.NoError(t, f.ForwardMetrics(context.Background(), in))
		}(in)
	}
	wg.Wait()

	require.Len(t, bodies, len(inputs))
	for _, in := range inputs {
		want, err := Serialize(in, fixedNow().Unix()).Encode()
		require.NoError(t, err)
		require.True(t, bodies[string(want)], string(want))
	}
	require.Empty(t, sink.all())
}

func TestNewDatadogForwarderDefaults(t *testing.T) {
	f, err := New("abc")
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL+"/v1/series?api_key=abc", f.endpoint)
	require.NotNil(t, f.httpClient)
	require.Zero(t, f.httpClient.Timeout)

	_, err = New("")
	require.Error(t, err)
}

func TestNewDatadogForwarderRejectsBaseURLWithoutScheme(t *testing.T) {
	for _, base := range []string{"app.datadoghq.com/api", "https://", "/api"} {
		_, err := NewDatadogForwarder(&DatadogForwarderConfig{APIKey: "abc", BaseURL: base})
		require.Error(t, err, base)
	}
	f, err := NewDatadogForwarder(&DatadogForwarderConfig{APIKey: "abc", BaseURL: "http://127.0.0.1:8080/api/"})
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:8080/api/v1/series?api_key=abc", f.endpoint)
}

func TestNewDatadogForwarderSharedClient(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	f, err := NewDatadogForwarder(&DatadogForwarderConfig{
		APIKey:     "a b&c",
		BaseURL:    "https://example.test/api/",
		HTTPClient: hc,
	})
	require.NoError(t, err)
	require.Same(t, hc, f.httpClient)
	require.Equal(t, "https://example.test/api/v1/series?api_key=a+b%26c", f.endpoint)
}
