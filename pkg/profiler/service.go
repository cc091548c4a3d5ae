package profiler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	minPort = 1024
	maxPort = 49151

	defaultStatsInterval = 10 * time.Minute
)

const (
	_ = 1 << (10 * iota)
	kilobyte
	megabyte
	gigabyte
)

// Service opts holds configuration options for the profiler service.
type ServiceOpts struct {
	Port          int
	StatsInterval time.Duration
	Datadir       string
	// Gatherer is the source of the metrics served at /metrics, defaults to
	// the prometheus default gatherer.
	Gatherer prometheus.Gatherer
}

func (o ServiceOpts) validate() error {
	if len(o.Datadir) == 0 {
		return fmt.Errorf("missing profiler datadir")
	}
	if o.Port < minPort || o.Port > maxPort {
		return fmt.Errorf("port must be in range [%d, %d]", minPort, maxPort)
	}
	return nil
}

func (o ServiceOpts) address() string {
	return fmt.Sprintf(":%d", o.Port)
}

func (o ServiceOpts) gatherer() prometheus.Gatherer {
	if o.Gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return o.Gatherer
}

func (o ServiceOpts) statsInterval() time.Duration {
	if o.StatsInterval <= 0 {
		return defaultStatsInterval
	}
	return o.StatsInterval
}

// ProfilerService is the data structure representing a webserver exposing
// prometheus metrics and pprof profiles.
type ProfilerService struct {
	opts   ServiceOpts
	server *http.Server
	stopFn context.CancelFunc

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

// NewService returns a new Profiler instance.
func NewService(opts ServiceOpts) (*ProfilerService, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              opts.address(),
		Handler:           newRouter(opts.gatherer()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("profiler: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("profiler: %s", format)
		log.WithError(err).Warnf(format, a...)
	}
	return &ProfilerService{opts, server, nil, logFn, warnFn}, nil
}

// Handler returns the http handler serving /metrics and /debug/pprof/.
func (s *ProfilerService) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the profiler.
func (s *ProfilerService) Start() error {
	lis, err := net.Listen("tcp", s.opts.address())
	if err != nil {
		return err
	}

	runtime.SetBlockProfileRate(1)
	go func() {
		if err := s.server.Serve(lis); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.warn(err, "server stopped unexpectedly")
		}
	}()
	ctx, cancelStats := context.WithCancel(context.Background())
	s.enableMemoryStatistics(ctx, s.opts.statsInterval(), s.opts.Datadir)
	s.stopFn = cancelStats
	s.log(
		"start at url http://localhost:%d/metrics and /debug/pprof/", s.opts.Port,
	)
	return nil
}

// Stop stops the profiler.
func (s *ProfilerService) Stop() {
	if s.stopFn != nil {
		s.stopFn()
	}
	// nolint
	s.server.Shutdown(context.Background())
	s.log("stop")
}

func newRouter(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// enableMemoryStatistics starts a goroutine that periodically logs memory
// usage of the go process and dumps the gathered metrics to the datadir once
// stopped.
func (s *ProfilerService) enableMemoryStatistics(
	ctx context.Context,
	interval time.Duration,
	path string,
) {

	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.printMemoryStatistics()
				s.printNumOfRoutines()
			case <-ctx.Done():
				if err := s.dumpMetrics(path); err != nil {
					s.warn(err, "error while dumping metrics")
				}
				return
			}
		}
	}()
}

// printMemoryStatistics logs memory statistics to stdout.
func (s *ProfilerService) printMemoryStatistics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.log(
		"total allocated: %.3fGB, heap allocated: %.3fGB, "+
			"allocated objects count: %v, freed objects count: %v",
		toGigabytes(memStats.TotalAlloc),
		toGigabytes(memStats.HeapAlloc),
		memStats.Mallocs,
		memStats.Frees,
	)
}

func (s *ProfilerService) printNumOfRoutines() {
	s.log("num of go routines: %v", runtime.NumGoroutine())
}

// dumpMetrics writes the gathered metrics to a new file in the given
// directory.
func (s *ProfilerService) dumpMetrics(path string) error {
	file, err := os.OpenFile(
		filepath.Join(
			path,
			time.Now().Format(time.RFC3339)),
		os.O_APPEND|os.O_CREATE|os.O_RDWR,
		0644,
	)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	metricFamily, err := s.opts.gatherer().Gather()
	if err != nil {
		return err
	}
	for _, v := range metricFamily {
		if _, err := writer.WriteString(v.String() + "\n"); err != nil {
			return err
		}
	}

	return nil
}

// toGigabytes returns given memory in bytes to gigabytes.
func toGigabytes(bytes uint64) float64 {
	return float64(bytes) / gigabyte
}
