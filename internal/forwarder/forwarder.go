// Package forwarder defines how an aggregated snapshot is delivered to a
// monitoring backend and the errors a delivery attempt can end with.
package forwarder

import (
	"context"
	"fmt"

	"github.com/hnakamur/ltsvlog"
	"github.com/masa23/metricforward/internal/metrics"
)

// Forwarder makes exactly one delivery attempt per call.
//
// A backend rejection is reported through the forwarder's ErrorHandler and
// is not returned; only failures the caller may want to act on, such as a
// TransportError, are returned.
type Forwarder interface {
	ForwardMetrics(ctx context.Context, ms metrics.AggregatedMetrics) error
}

// ErrorHandler receives errors that are reported instead of returned.
type ErrorHandler func(err error)

// LogError writes err to ltsvlog.Logger.
func LogError(err error) {
	ltsvlog.Logger.Err(err)
}

// TransportError is a failure to reach the backend or read its response.
type TransportError struct {
	Backend string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError is a response with a status outside 2xx.
type RejectedError struct {
	Backend    string
	StatusCode int
	Status     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s API error: status=%d %s", e.Backend, e.StatusCode, e.Status)
}

// EncodeError means the payload could not be encoded, e.g. a NaN value.
type EncodeError struct {
	Backend string
	Err     error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s: encode payload: %v", e.Backend, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
