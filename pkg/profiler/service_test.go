package profiler_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/electrum-link/pkg/profiler"
)

func TestNewService(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts profiler.ServiceOpts
	}{
		{"missing datadir", profiler.ServiceOpts{Port: 18010}},
		{"port too low", profiler.ServiceOpts{Port: 80, Datadir: t.TempDir()}},
		{"port too high", profiler.ServiceOpts{Port: 50000, Datadir: t.TempDir()}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			svc, err := profiler.NewService(tt.opts)
			require.Error(t, err)
			require.Nil(t, svc)
		})
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_requests_total",
		Help: "Test counter.",
	})
	reg.MustRegister(counter)
	counter.Add(3)

	svc, err := profiler.NewService(profiler.ServiceOpts{
		Port:     18011,
		Datadir:  t.TempDir(),
		Gatherer: reg,
	})
	require.NoError(t, err)

	server := httptest.NewServer(svc.Handler())
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "test_requests_total 3")

	resp, err = http.Get(server.URL + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	datadir := t.TempDir()
	svc, err := profiler.NewService(profiler.ServiceOpts{
		Port:          18012,
		Datadir:       datadir,
		StatsInterval: time.Hour,
		Gatherer:      prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Start())
	svc.Stop()

	// Metrics are dumped to the datadir once stopped.
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(datadir)
		return err == nil && len(entries) == 1
	}, 5*time.Second, 50*time.Millisecond)
}
