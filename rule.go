package metricforward

import (
	"time"

	"github.com/masa23/metricforward/internal/metrics"
)

func containsString(arr []string, str string) bool {
	for _, s := range arr {
		if s == str {
			return true
		}
	}
	return false
}

// Match reports whether a line passes every filter of the metric.
func (m *ConfigMetric) Match(l *ParsedLog) bool {
	if m.LogColumn != "" && !l.IsColumn(m.LogColumn) {
		return false
	}
	for _, filter := range m.Filter {
		if !l.IsColumn(filter.LogColumn) {
			return false
		}
		if containsString(filter.Values, l.String(filter.LogColumn)) != filter.Bool {
			return false
		}
	}
	return true
}

// LogTime returns the time of a line, or now when no TimeColumn is set.
func (conf *Config) LogTime(l *ParsedLog, now time.Time) (time.Time, error) {
	if conf.TimeColumn == "" {
		return now, nil
	}
	return time.Parse(conf.TimeParse, l.String(conf.TimeColumn))
}

// Observe folds one parsed line into agg for every matching metric.
func Observe(conf *Config, l *ParsedLog, ts time.Time, agg *metrics.Aggregator) {
	for i := range conf.Metrics {
		m := &conf.Metrics[i]
		if !m.Match(l) {
			continue
		}
		switch m.Aggregation {
		case metrics.AggregationCount:
			agg.Observe(ts, m.Aggregation, m.ItemName, 0)
		case metrics.AggregationItemCount:
			agg.Observe(ts, m.Aggregation, m.ItemName+"."+l.String(m.LogColumn), 0)
		default:
			agg.Observe(ts, m.Aggregation, m.ItemName, l.Value(m.LogColumn))
		}
	}
}
