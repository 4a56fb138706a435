package metricforward

import (
	"fmt"
	"math"
	"strconv"

	"github.com/valyala/fastjson"
)

// Data types of a log column
const (
	DataTypeString = "string"
	DataTypeInt    = "int"
	DataTypeFloat  = "float"
)

func isValidDataType(s string) bool {
	return s == DataTypeString || s == DataTypeInt || s == DataTypeFloat
}

// LogColumn is a column read from every log line.
type LogColumn struct {
	Name     string
	DataType string
}

type parsedLog struct {
	t string
	f float64
	i int64
	b []byte
}

// ParsedLog holds the configured columns found in one line. Every column
// keeps its text form; numeric columns also keep their parsed value.
type ParsedLog struct {
	list map[string]parsedLog
}

// Bytes
func (p *ParsedLog) Bytes(name string) []byte {
	return p.list[name].b
}

func (p *ParsedLog) String(name string) string {
	return string(p.list[name].b)
}

func (p *ParsedLog) Int(name string) int64 {
	return p.list[name].i
}

func (p *ParsedLog) Float(name string) float64 {
	return p.list[name].f
}

// Value returns the column as a number regardless of its data type.
func (p *ParsedLog) Value(name string) float64 {
	c := p.list[name]
	if c.t == DataTypeInt {
		return float64(c.i)
	}
	return c.f
}

func (p *ParsedLog) IsColumn(name string) bool {
	_, ok := p.list[name]
	return ok
}

// ParseLog
// format json, ltsv
func ParseLog(buf []byte, columns []LogColumn, format string) (*ParsedLog, error) {
	parsed := &ParsedLog{list: make(map[string]parsedLog, len(columns))}
	switch format {
	case LogFormatJSON:
		var p fastjson.Parser
		v, err := p.ParseBytes(buf)
		if err != nil {
			return nil, err
		}
		for _, column := range columns {
			cv := v.Get(column.Name)
			if cv == nil {
				continue
			}
			var b []byte
			if cv.Type() == fastjson.TypeString {
				b = cv.GetStringBytes()
			} else {
				b = []byte(cv.String())
			}
			if err := parsed.set(column, b); err != nil {
				return nil, err
			}
		}
	case LogFormatLTSV:
		keys := make([][]byte, 0, len(columns))
		for _, column := range columns {
			keys = append(keys, []byte(column.Name))
		}
		values := ParseLTSV(buf, keys)
		for _, column := range columns {
			b, ok := values[column.Name]
			if !ok {
				continue
			}
			if err := parsed.set(column, b); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("log format %s is unsupported", format)
	}
	return parsed, nil
}

func (p *ParsedLog) set(column LogColumn, b []byte) error {
	l := parsedLog{t: column.DataType, b: b}
	var err error
	switch column.DataType {
	case DataTypeInt:
		l.i, err = strconv.ParseInt(string(b), 10, 64)
	case DataTypeFloat:
		l.f, err = strconv.ParseFloat(string(b), 64)
		if err == nil && (math.IsNaN(l.f) || math.IsInf(l.f, 0)) {
			err = fmt.Errorf("value %s is not finite", b)
		}
	}
	if err != nil {
		return fmt.Errorf("column %s: %w", column.Name, err)
	}
	p.list[column.Name] = l
	return nil
}
