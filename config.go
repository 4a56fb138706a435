package metricforward

import (
	"os"
	"time"

	"github.com/hnakamur/errstack"
	"github.com/masa23/metricforward/internal/metrics"
	"gopkg.in/yaml.v2"
)

// Log formats
const (
	LogFormatLTSV = "ltsv"
	LogFormatJSON = "json"
)

// Forwarder types
const (
	ForwarderDatadog  = "datadog"
	ForwarderGraphite = "graphite"
	ForwarderOtlpGrpc = "otlpgrpc"
)

const defaultSendBuffer = 10

// Config is confiure struct
type Config struct {
	LogFile       string              `yaml:"LogFile"`
	PosFile       string              `yaml:"PosFile"`
	LogFormat     string              `yaml:"LogFormat"`
	LogBufferSize int                 `yaml:"LogBufferSize"`
	ErrorLogFile  string              `yaml:"ErrorLogFile"`
	Debug         bool                `yaml:"Debug"`
	TimeColumn    string              `yaml:"TimeColumn"`
	TimeParse     string              `yaml:"TimeParse"`
	Report        ConfigReport        `yaml:"Report"`
	Metrics       []ConfigMetric      `yaml:"Metrics"`
	Forwarder     ConfigForwarder     `yaml:"Forwarder"`
	SelfTelemetry ConfigSelfTelemetry `yaml:"SelfTelemetry"`
	LogColumns    []LogColumn         `yaml:"-"`
}

type ConfigReport struct {
	Interval time.Duration `yaml:"Interval"`
	Delay    time.Duration `yaml:"Delay"`
}

type ConfigMetric struct {
	Description string                `yaml:"Description"`
	ItemName    string                `yaml:"ItemName"`
	Type        string                `yaml:"Type"`
	LogColumn   string                `yaml:"LogColumn"`
	DataType    string                `yaml:"DataType"`
	Filter      []ConfigMetricsFilter `yaml:"Filter"`

	Aggregation metrics.Aggregation `yaml:"-"`
}

// ConfigMetricsFilter keeps lines whose LogColumn is in Values when Bool is
// true, and drops them when Bool is false.
type ConfigMetricsFilter struct {
	LogColumn string   `yaml:"LogColumn"`
	Values    []string `yaml:"Values"`
	Bool      bool     `yaml:"Bool"`
}

type ConfigForwarder struct {
	Type       string                  `yaml:"Type"`
	SendBuffer int                     `yaml:"SendBuffer"`
	Datadog    ConfigForwarderDatadog  `yaml:"Datadog"`
	Graphite   ConfigForwarderGraphite `yaml:"Graphite"`
	OtlpGrpc   ConfigForwarderOtlpGrpc `yaml:"OtlpGrpc"`
}

type ConfigForwarderDatadog struct {
	APIKey  string        `yaml:"APIKey"`
	BaseURL string        `yaml:"BaseURL"`
	Timeout time.Duration `yaml:"Timeout"`
}

type ConfigForwarderGraphite struct {
	Host   string `yaml:"Host"`
	Port   int    `yaml:"Port"`
	Prefix string `yaml:"Prefix"`
}

type ConfigForwarderOtlpGrpc struct {
	URL                string            `yaml:"URL"`
	TLS                ConfigTLS         `yaml:"TLS"`
	ResourceAttributes map[string]string `yaml:"ResourceAttributes"`
}

type ConfigSelfTelemetry struct {
	URL string    `yaml:"URL"`
	TLS ConfigTLS `yaml:"TLS"`
}

type ConfigTLS struct {
	Insecure             bool   `yaml:"Insecure"`
	CACertificate        string `yaml:"CACertificate"`
	ClientCertificate    string `yaml:"ClientCertificate"`
	ClientCertificateKey string `yaml:"ClientCertificateKey"`
}

// ConfigLoad is loading yaml config
func ConfigLoad(file string) (*Config, error) {
	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, errstack.WithLV(errstack.Errorf("read config file=%s err=%+v", file, err))
	}
	var conf Config
	if err := yaml.Unmarshal(buf, &conf); err != nil {
		return nil, errstack.WithLV(errstack.Errorf("parse config file=%s err=%+v", file, err))
	}
	readEnvironment(&conf)
	if err := conf.validate(); err != nil {
		return nil, err
	}
	confLogColumns(&conf)
	return &conf, nil
}

// readEnvironment lets operators keep the API key out of the config file.
func readEnvironment(conf *Config) {
	if key := os.Getenv("DD_API_KEY"); key != "" {
		conf.Forwarder.Datadog.APIKey = key
	}
	if u := os.Getenv("DD_BASE_URL"); u != "" {
		conf.Forwarder.Datadog.BaseURL = u
	}
}

func (conf *Config) validate() error {
	if conf.Report.Interval <= 0 {
		return errstack.Errorf("Report.Interval must be positive")
	}
	if conf.Report.Delay < 0 {
		return errstack.Errorf("Report.Delay must not be negative")
	}

	switch conf.LogFormat {
	case "":
		conf.LogFormat = LogFormatLTSV
	case LogFormatLTSV, LogFormatJSON:
	default:
		return errstack.Errorf("log format %s is unsupported", conf.LogFormat)
	}

	for i := range conf.Metrics {
		m := &conf.Metrics[i]
		agg, err := metrics.ParseAggregation(m.Type)
		if err != nil {
			return errstack.WithLV(errstack.Errorf("metric %s: %+v", m.ItemName, err))
		}
		m.Aggregation = agg
		if m.ItemName == "" {
			return errstack.Errorf("metric #%d has no ItemName", i)
		}
		if m.LogColumn == "" && agg != metrics.AggregationCount {
			return errstack.Errorf("metric %s: LogColumn is required for type %s", m.ItemName, m.Type)
		}
		if m.DataType == "" {
			m.DataType = defaultDataType(agg)
		}
		if !isValidDataType(m.DataType) {
			return errstack.Errorf("metric %s: data type %s is unsupported", m.ItemName, m.DataType)
		}
	}

	fw := &conf.Forwarder
	if fw.Type == "" {
		fw.Type = ForwarderDatadog
	}
	if fw.SendBuffer <= 0 {
		fw.SendBuffer = defaultSendBuffer
	}
	switch fw.Type {
	case ForwarderDatadog:
		if fw.Datadog.APIKey == "" {
			return errstack.Errorf("Forwarder.Datadog.APIKey or DD_API_KEY is required")
		}
	case ForwarderGraphite:
		if fw.Graphite.Host == "" || fw.Graphite.Port == 0 {
			return errstack.Errorf("Forwarder.Graphite.Host and Port are required")
		}
	case ForwarderOtlpGrpc:
		if fw.OtlpGrpc.URL == "" {
			return errstack.Errorf("Forwarder.OtlpGrpc.URL is required")
		}
	default:
		return errstack.Errorf("forwarder type %s is unsupported", fw.Type)
	}
	return nil
}

func defaultDataType(agg metrics.Aggregation) string {
	switch agg {
	case metrics.AggregationCount, metrics.AggregationItemCount:
		return DataTypeString
	}
	return DataTypeFloat
}

func confLogColumns(conf *Config) {
	conf.LogColumns = nil
	add := func(name, dataType string) {
		if name == "" {
			return
		}
		for i, c := range conf.LogColumns {
			if c.Name == name {
				if c.DataType == DataTypeString {
					conf.LogColumns[i].DataType = dataType
				}
				return
			}
		}
		conf.LogColumns = append(conf.LogColumns, LogColumn{Name: name, DataType: dataType})
	}

	add(conf.TimeColumn, DataTypeString)
	for _, m := range conf.Metrics {
		add(m.LogColumn, m.DataType)
		for _, f := range m.Filter {
			add(f.LogColumn, DataTypeString)
		}
	}
}
