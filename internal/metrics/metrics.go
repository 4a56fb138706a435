package metrics

import "fmt"

// MetricType is the kind of an aggregated value.
type MetricType int

const (
	Count MetricType = iota
	Measure
	Sample
)

func (t MetricType) String() string {
	switch t {
	case Count:
		return "count"
	case Measure:
		return "measure"
	case Sample:
		return "sample"
	}
	return fmt.Sprintf("MetricType(%d)", int(t))
}

// Metric is one aggregated observation.
type Metric struct {
	Type  MetricType
	Name  string
	Value float64
}

// AggregatedMetrics is the snapshot of one reporting interval.
type AggregatedMetrics []Metric
