package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hnakamur/errstack"
	"github.com/hnakamur/ltsvlog"
	"github.com/masa23/gotail"

	"github.com/masa23/metricforward"
	"github.com/masa23/metricforward/internal/forwarder"
	"github.com/masa23/metricforward/internal/metrics"
)

const stopTimeout = 30 * time.Second

// pipeline is the part of the process rebuilt on reload.
type pipeline struct {
	conf  *metricforward.Config
	agg   *metrics.Aggregator
	queue *forwarder.Queue
	close func(ctx context.Context) error
}

var (
	current     *pipeline
	currentLock = new(sync.Mutex)
	logFile     io.Closer
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "./config.yaml", "config file path")
	flag.Parse()

	conf, err := metricforward.ConfigLoad(configFile)
	if err != nil {
		panic(err)
	}
	if err := openLogger(conf); err != nil {
		panic(err)
	}
	ltsvlog.Logger.Info().Fmt("msg", "start metricforward pid=%d", os.Getpid()).Log()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conf.SelfTelemetry.URL != "" {
		shutdown, err := initOtelMetrics(ctx, conf)
		if err != nil {
			ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("self telemetry init error err=%+v", err)))
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					ltsvlog.Logger.Err(err)
				}
			}()
		}
	}

	p, err := newPipeline(ctx, conf)
	if err != nil {
		ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("forwarder init error err=%+v", err)))
		os.Exit(1)
	}
	current = p

	go flushLoop(ctx)
	go readLog(conf)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range signalChan {
		switch sig {
		case syscall.SIGHUP:
			reload(ctx, configFile)
		case syscall.SIGINT, syscall.SIGTERM:
			ltsvlog.Logger.Info().Fmt("msg", "receive signal %s, stopping", sig).Log()
			cancel()
			currentLock.Lock()
			stopPipeline(current, time.Now().Add(time.Hour))
			currentLock.Unlock()
			return
		}
	}
}

func openLogger(conf *metricforward.Config) error {
	if conf.ErrorLogFile == "" {
		ltsvlog.Logger = ltsvlog.NewLTSVLogger(os.Stdout, conf.Debug)
		return nil
	}
	f, err := os.OpenFile(conf.ErrorLogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	ltsvlog.Logger = ltsvlog.NewLTSVLogger(f, conf.Debug)
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	return nil
}

func newPipeline(ctx context.Context, conf *metricforward.Config) (*pipeline, error) {
	fw, closeFn, err := newForwarder(ctx, conf)
	if err != nil {
		return nil, err
	}
	q := forwarder.NewQueue(fw, conf.Forwarder.SendBuffer)
	go q.Start(ctx)
	return &pipeline{
		conf:  conf,
		agg:   metrics.NewAggregator(conf.Report.Interval, conf.Report.Delay),
		queue: q,
		close: closeFn,
	}, nil
}

// stopPipeline sends every window still open as of deadline, then drains the
// queue and closes the forwarder.
func stopPipeline(p *pipeline, deadline time.Time) {
	exportAll(p, p.agg.Flush(deadline))

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := p.queue.Stop(ctx); err != nil {
		ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("forwarder queue stop err=%+v", err)))
	}
	if p.close != nil {
		if err := p.close(ctx); err != nil {
			ltsvlog.Logger.Err(err)
		}
	}
}

func reload(ctx context.Context, configFile string) {
	newConf, err := metricforward.ConfigLoad(configFile)
	if err != nil {
		ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("%s err=%+v", "reload error", err)))
		return
	}
	newPipe, err := newPipeline(ctx, newConf)
	if err != nil {
		ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("%s err=%+v", "forwarder init error", err)))
		return
	}

	currentLock.Lock()
	old := current
	current = newPipe
	if logSourceChanged(old.conf, newConf) {
		ltsvlog.Logger.Info().String("msg", "LogFile, PosFile and LogBufferSize changes need a restart").Log()
	}
	if err := openLogger(newConf); err != nil {
		ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("%s err=%+v", "log file reopen failed", err)))
	}
	currentLock.Unlock()

	go stopPipeline(old, time.Now().Add(old.conf.Report.Interval+old.conf.Report.Delay))
	ltsvlog.Logger.Info().String("msg", "reload metricforward").Log()
}

func logSourceChanged(prev, next *metricforward.Config) bool {
	return prev.LogFile != next.LogFile || prev.PosFile != next.PosFile || prev.LogBufferSize != next.LogBufferSize
}

func exportAll(p *pipeline, snapshots []metrics.AggregatedMetrics) {
	for _, ms := range snapshots {
		if len(ms) == 0 {
			continue
		}
		if err := p.queue.Export(ms); err != nil {
			ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("drop %d metrics err=%+v", len(ms), err)))
		}
	}
}

// flushLoop wakes at every interval boundary and hands completed windows to
// the queue.
func flushLoop(ctx context.Context) {
	ltsvlog.Logger.Debug().String("msg", "start flush go routine").Log()
	for {
		currentLock.Lock()
		interval := current.conf.Report.Interval
		currentLock.Unlock()

		now := time.Now()
		timer := time.NewTimer(now.Truncate(interval).Add(interval).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		currentLock.Lock()
		p := current
		currentLock.Unlock()
		exportAll(p, p.agg.Flush(time.Now()))
	}
}

// observeLine feeds one log line to the current pipeline. currentLock is held
// until the observation lands so that a reload cannot flush the old
// aggregator in between.
func observeLine(buf []byte, now time.Time) {
	currentLock.Lock()
	defer currentLock.Unlock()
	p := current

	log, err := metricforward.ParseLog(buf, p.conf.LogColumns, p.conf.LogFormat)
	if err != nil {
		ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("%s err=%+v", "log parse error", err)))
		return
	}
	ts, err := p.conf.LogTime(log, now)
	if err != nil {
		ltsvlog.Logger.Debug().Fmt("msg", "skip line, time parse error=%s", err.Error()).Log()
		return
	}
	metricforward.Observe(p.conf, log, ts, p.agg)
}

// readLog tails the log named at startup. LogFile, PosFile and LogBufferSize
// are not reloadable.
func readLog(conf *metricforward.Config) {
	ltsvlog.Logger.Debug().String("msg", "start readLog go routine").Log()
	if conf.LogBufferSize > 0 {
		gotail.DefaultBufSize = conf.LogBufferSize
	}
	tail, err := gotail.Open(conf.LogFile, conf.PosFile)
	if err != nil {
		ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("%s logFile=%s posFile=%s err=%+v", "tail logfile failed", conf.LogFile, conf.PosFile, err)))
		os.Exit(1)
	}
	tail.InitialReadPositionEnd = false

	for tail.Scan() {
		buf := tail.Bytes()
		ltsvlog.Logger.Debug().Fmt("readlog", "%s", string(buf)).Log()
		observeLine(buf, time.Now())
	}

	if err = tail.Err(); err != nil {
		ltsvlog.Logger.Err(errstack.WithLV(errstack.Errorf("%s err=%+v", "tail log err", err)))
		os.Exit(1)
	}
}
