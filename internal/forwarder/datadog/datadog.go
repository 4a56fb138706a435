// Package datadog forwards aggregated metrics to the Datadog series API.
package datadog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hnakamur/ltsvlog"
	"github.com/masa23/metricforward/internal/forwarder"
	"github.com/masa23/metricforward/internal/metrics"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://app.datadoghq.com/api"
	seriesPath     = "/v1/series"
	backendName    = "Datadog"
)

type DatadogForwarder struct {
	config     *DatadogForwarderConfig
	endpoint   string
	httpClient *http.Client
}

var _ forwarder.Forwarder = (*DatadogForwarder)(nil)

type DatadogForwarderConfig struct {
	APIKey  string
	BaseURL string
	// HTTPClient is shared by every call. When nil a client with Timeout is
	// created; a zero Timeout leaves the transport defaults in place.
	HTTPClient *http.Client
	Timeout    time.Duration
	Now        func() time.Time
	OnError    forwarder.ErrorHandler
}

// New returns a forwarder for apiKey with every other setting defaulted.
func New(apiKey string) (*DatadogForwarder, error) {
	return NewDatadogForwarder(&DatadogForwarderConfig{APIKey: apiKey})
}

func NewDatadogForwarder(config *DatadogForwarderConfig) (*DatadogForwarder, error) {
	if config.APIKey == "" {
		return nil, errors.New("datadog: api key is required")
	}
	c := *config
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("datadog: base url %q needs a scheme and host", c.BaseURL)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.OnError == nil {
		c.OnError = forwarder.LogError
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}

	return &DatadogForwarder{
		config:     &c,
		endpoint:   c.BaseURL + seriesPath + "?api_key=" + url.QueryEscape(c.APIKey),
		httpClient: hc,
	}, nil
}

// ForwardMetrics posts ms as one series request. A non-2xx response is passed
// to OnError and nil is returned.
func (f *DatadogForwarder) ForwardMetrics(ctx context.Context, ms metrics.AggregatedMetrics) error {
	ltsvlog.Logger.Debug().Fmt("msg", "Sending %d metrics to Datadog", len(ms)).Log()

	body, err := Serialize(ms, f.config.Now().Unix()).Encode()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return &forwarder.TransportError{Backend: backendName, Err: f.redact(err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return &forwarder.TransportError{Backend: backendName, Err: f.redact(err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.config.OnError(&forwarder.RejectedError{
			Backend:    backendName,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
		})
	}
	return nil
}

// redact keeps the api key out of *url.Error messages, which embed the URL.
func (f *DatadogForwarder) redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = f.config.BaseURL + seriesPath + "?api_key=REDACTED"
	}
	return err
}
