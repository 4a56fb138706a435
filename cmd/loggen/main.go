// Command loggen writes synthetic access-log lines for exercising metricforward.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

type OutputFormat string

const (
	OutputFormatLTSV OutputFormat = "ltsv"
	OutputFormatJSON OutputFormat = "json"
)

const timeLayout = "02/Jan/2006:15:04:05 -0700"

func main() {
	path := flag.String("path", "access.log", "output file path")
	format := flag.String("format", "ltsv", "format ltsv or json")
	duration := flag.Duration("duration", time.Minute, "how long to write")
	logPerSec := flag.Int("log-per-sec", 100, "log count per second")
	appendLog := flag.Bool("append", false, "append to an existing file")
	flag.Parse()

	outputFormat := OutputFormat(*format)
	if outputFormat != OutputFormatLTSV && outputFormat != OutputFormatJSON {
		log.Fatalf("invalid format %q", *format)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if *appendLog {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(*path, flags, 0644)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	gen := &generator{rnd: rand.New(rand.NewSource(time.Now().UnixNano())), now: time.Now}
	if err := run(ctx, f, gen, outputFormat, rate.NewLimiter(rate.Limit(*logPerSec), 1)); err != nil {
		log.Fatal(err)
	}
}

// run writes one line per limiter token until ctx is done.
func run(ctx context.Context, w io.Writer, gen *generator, format OutputFormat, limiter *rate.Limiter) error {
	for {
		if err := limiter.Wait(ctx); err != nil {
			// Wait fails early once the next token would land past the deadline
			if _, ok := ctx.Deadline(); ok || ctx.Err() != nil {
				return nil
			}
			return err
		}
		l := gen.next()
		var line []byte
		switch format {
		case OutputFormatJSON:
			line = l.JSON()
		default:
			line = l.LTSV()
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
}

type Log struct {
	TimeLocal           string  `json:"time_local"`
	Status              int     `json:"status"`
	Scheme              string  `json:"scheme"`
	UpstreamCacheStatus string  `json:"upstream_cache_status"`
	BytesSent           int     `json:"bytes_sent"`
	UpstreamRequestTime float64 `json:"upstream_request_time"`
}

// weighted toward success so that per-status counts look like real traffic
var statusCodes = []int{
	http.StatusOK, http.StatusOK, http.StatusOK, http.StatusOK, http.StatusOK,
	http.StatusOK, http.StatusOK, http.StatusNotModified, http.StatusMovedPermanently,
	http.StatusFound, http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound,
	http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
	http.StatusServiceUnavailable, http.StatusGatewayTimeout,
}

type generator struct {
	rnd *rand.Rand
	now func() time.Time
}

func (g *generator) next() *Log {
	return &Log{
		TimeLocal:           g.now().Format(timeLayout),
		Status:              statusCodes[g.rnd.Intn(len(statusCodes))],
		Scheme:              []string{"http", "https"}[g.rnd.Intn(2)],
		UpstreamCacheStatus: []string{"HIT", "MISS"}[g.rnd.Intn(2)],
		BytesSent:           g.rnd.Intn(10000),
		UpstreamRequestTime: g.rnd.Float64(),
	}
}

func (l *Log) JSON() []byte {
	b, err := json.Marshal(l)
	if err != nil {
		panic(err)
	}
	return append(b, '\n')
}

func (l *Log) LTSV() []byte {
	return []byte(fmt.Sprintf("time_local:%s\tstatus:%d\tscheme:%s\tupstream_cache_status:%s\tbytes_sent:%d\tupstream_request_time:%.3f\n",
		l.TimeLocal,
		l.Status,
		l.Scheme,
		l.UpstreamCacheStatus,
		l.BytesSent,
		l.UpstreamRequestTime,
	))
}
