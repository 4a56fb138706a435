package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Aggregation is how observations of one rule are reduced within a window.
type Aggregation string

const (
	AggregationCount     Aggregation = "count"
	AggregationSum       Aggregation = "sum"
	AggregationItemCount Aggregation = "itemCount"
	AggregationMax       Aggregation = "max"
	AggregationMin       Aggregation = "min"
	AggregationAvg       Aggregation = "avg"
	AggregationLast      Aggregation = "last"
)

// ParseAggregation returns the Aggregation named s.
func ParseAggregation(s string) (Aggregation, error) {
	switch a := Aggregation(s); a {
	case AggregationCount, AggregationSum, AggregationItemCount,
		AggregationMax, AggregationMin, AggregationAvg, AggregationLast:
		return a, nil
	}
	return "", fmt.Errorf("metric type %s is unsupported", s)
}

// MetricType maps the aggregation to the kind reported to backends.
func (a Aggregation) MetricType() MetricType {
	switch a {
	case AggregationMax, AggregationMin, AggregationAvg:
		return Measure
	case AggregationLast:
		return Sample
	}
	return Count
}

type accumulator struct {
	agg   Aggregation
	value float64
	n     int
}

func (acc *accumulator) observe(v float64) {
	switch acc.agg {
	case AggregationCount, AggregationItemCount:
		acc.value++
	case AggregationSum, AggregationAvg:
		acc.value += v
	case AggregationMax:
		if acc.n == 0 || v > acc.value {
			acc.value = v
		}
	case AggregationMin:
		if acc.n == 0 || v < acc.value {
			acc.value = v
		}
	case AggregationLast:
		acc.value = v
	}
	acc.n++
}

func (acc *accumulator) result() float64 {
	if acc.agg == AggregationAvg && acc.n > 0 {
		return acc.value / float64(acc.n)
	}
	return acc.value
}

type window struct {
	start time.Time
	names []string
	accs  map[string]*accumulator
}

// Aggregator folds observations into fixed windows of Interval length.
// A window is flushed once its end plus Delay has passed.
type Aggregator struct {
	interval time.Duration
	delay    time.Duration

	mu sync.Mutex
	// keyed by window start in Unix nanoseconds; time.Time keys carry the
	// parsed zone and would split one window per zone value
	windows map[int64]*window
}

func NewAggregator(interval, delay time.Duration) *Aggregator {
	return &Aggregator{
		interval: interval,
		delay:    delay,
		windows:  make(map[int64]*window),
	}
}

// Observe adds one observation taken at ts. For AggregationItemCount the
// caller passes the item name already joined with the column value.
func (a *Aggregator) Observe(ts time.Time, agg Aggregation, name string, value float64) {
	start := ts.Truncate(a.interval)

	a.mu.Lock()
	defer a.mu.Unlock()

	key := start.UnixNano()
	w, ok := a.windows[key]
	if !ok {
		w = &window{start: start, accs: make(map[string]*accumulator)}
		a.windows[key] = w
	}
	acc, ok := w.accs[name]
	if !ok {
		acc = &accumulator{agg: agg}
		w.accs[name] = acc
		w.names = append(w.names, name)
	}
	acc.observe(value)
}

// Flush removes and returns the windows that are complete at now, oldest first.
func (a *Aggregator) Flush(now time.Time) []AggregatedMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	var done []*window
	for key, w := range a.windows {
		if !w.start.Add(a.interval + a.delay).After(now) {
			done = append(done, w)
			delete(a.windows, key)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].start.Before(done[j].start) })

	out := make([]AggregatedMetrics, 0, len(done))
	for _, w := range done {
		ms := make(AggregatedMetrics, 0, len(w.names))
		for _, name := range w.names {
			acc := w.accs[name]
			ms = append(ms, Metric{Type: acc.agg.MetricType(), Name: name, Value: acc.result()})
		}
		out = append(out, ms)
	}
	return out
}

// Pending reports the number of open windows.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.windows)
}
