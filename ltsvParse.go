package metricforward

import (
	"bytes"
)

// ParseLTSV returns the values of the wanted labels found in one LTSV line.
// When a label repeats, the first occurrence wins.
func ParseLTSV(data []byte, labels [][]byte) map[string][]byte {
	want := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		want[string(l)] = struct{}{}
	}

	ret := make(map[string][]byte, len(labels))
	for _, field := range bytes.Split(bytes.TrimRight(data, "\r\n"), []byte("\t")) {
		label, value, ok := bytes.Cut(field, []byte(":"))
		if !ok {
			continue
		}
		if _, ok := want[string(label)]; !ok {
			continue
		}
		if _, seen := ret[string(label)]; !seen {
			ret[string(label)] = value
		}
	}
	return ret
}
