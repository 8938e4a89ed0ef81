package server_test

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lmittmann/tint"
	"github.com/malbeclabs/s3-batcher/internal/batch"
	"github.com/malbeclabs/s3-batcher/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	log *slog.Logger
)

func TestMain(m *testing.M) {
	flag.Parse()
	verbose := false
	if vFlag := flag.Lookup("test.v"); vFlag != nil && vFlag.Value.String() == "true" {
		verbose = true
	}
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	log = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.RFC3339,
		AddSource:  true,
	}))

	os.Exit(m.Run())
}

type mockSummariser struct {
	SummaryFunc func() []batch.Summary
}

func (m mockSummariser) Summary() []batch.Summary {
	return m.SummaryFunc()
}

func newTestServer(t *testing.T, summariser server.Summariser, ready func() bool, reg *prometheus.Registry) *server.Server {
	t.Helper()

	s, err := server.New(log, server.Config{
		Summariser:      summariser,
		Ready:           ready,
		Gatherer:        reg,
		Metrics:         server.NewHTTPMetrics(reg),
		ShutdownTimeout: 250 * time.Millisecond,
	})
	require.NoError(t, err)
	return s
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestServer_Routes(t *testing.T) {
	t.Parallel()

	store := batch.NewStore()
	summariser := batch.NewSummariser(store)

	t.Run("ping_and_healthz", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, summariser, func() bool { return false }, prometheus.NewRegistry()).Router()

		code, body := get(t, h, "/ping")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "pong", body)

		code, body = get(t, h, "/healthz")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body)
	})

	t.Run("readyz_follows_service_state", func(t *testing.T) {
		t.Parallel()

		var running atomic.Bool
		h := newTestServer(t, summariser, running.Load, prometheus.NewRegistry()).Router()

		code, _ := get(t, h, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)

		running.Store(true)
		code, body := get(t, h, "/readyz")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body)
	})

	t.Run("summary_empty_store_is_empty_array", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, batch.NewSummariser(batch.NewStore()), func() bool { return true }, prometheus.NewRegistry()).Router()

		code, body := get(t, h, "/batch/summary")
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `[]`, body)
	})

	t.Run("summary_nil_is_empty_array", func(t *testing.T) {
		t.Parallel()

		h := newTestServer(t, mockSummariser{SummaryFunc: func() []batch.Summary { return nil }}, func() bool { return true }, prometheus.NewRegistry()).Router()

		code, body := get(t, h, "/batch/summary")
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `[]`, body)
	})

	t.Run("summary_lists_batches", func(t *testing.T) {
		t.Parallel()

		st := batch.NewStore()
		created := time.Date(2024, 8, 10, 11, 0, 0, 0, time.UTC)
		for _, source := range []string{"orders", "orders", "returns"} {
			st.Add(batch.Entry{Partition: batch.NewPartition(source, created), Created: created, Payload: "{}"})
		}
		h := newTestServer(t, batch.NewSummariser(st), func() bool { return true }, prometheus.NewRegistry()).Router()

		code, body := get(t, h, "/batch/summary")
		require.Equal(t, http.StatusOK, code)

		var got []batch.Summary
		require.NoError(t, json.Unmarshal([]byte(body), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "orders", got[0].Source)
		assert.Equal(t, 2, got[0].RecordCount)
		assert.Equal(t, "2024-08-10", got[0].Date.String())
		assert.True(t, got[0].OldestRecord.Equal(created))
		assert.Equal(t, "returns", got[1].Source)
		assert.Equal(t, 1, got[1].RecordCount)
	})

	t.Run("metrics_exposes_registry", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		metrics := batch.NewWriterMetrics(reg)
		metrics.BatchesWritten.Add(3)
		s := newTestServer(t, summariser, func() bool { return true }, reg)
		h := s.Router()

		_, _ = get(t, h, "/ping")
		code, body := get(t, h, "/metrics")
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "s3_batcher_batches_written_total 3")
		assert.Contains(t, body, "s3_batcher_http_requests_total")
	})

	t.Run("request_metrics_use_route_pattern", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		metrics := server.NewHTTPMetrics(reg)
		s, err := server.New(log, server.Config{
			Summariser: summariser,
			Ready:      func() bool { return true },
			Gatherer:   reg,
			Metrics:    metrics,
		})
		require.NoError(t, err)
		h := s.Router()

		_, _ = get(t, h, "/ping")
		_, _ = get(t, h, "/ping")
		assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues(http.MethodGet, "/ping", "200")))
	})
}

func TestServer_New(t *testing.T) {
	t.Parallel()

	t.Run("nil_logger", func(t *testing.T) {
		t.Parallel()

		_, err := server.New(nil, server.Config{})
		require.ErrorContains(t, err, "logger is required")
	})

	t.Run("missing_summariser", func(t *testing.T) {
		t.Parallel()

		_, err := server.New(log, server.Config{Ready: func() bool { return true }})
		require.ErrorContains(t, err, "summariser is required")
	})

	t.Run("missing_ready", func(t *testing.T) {
		t.Parallel()

		_, err := server.New(log, server.Config{Summariser: batch.NewSummariser(batch.NewStore())})
		require.ErrorContains(t, err, "readiness func is required")
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		cfg := server.Config{
			Summariser: batch.NewSummariser(batch.NewStore()),
			Ready:      func() bool { return true },
		}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, server.DefaultAddr, cfg.Addr)
		assert.Positive(t, cfg.ShutdownTimeout)
		assert.NotNil(t, cfg.Gatherer)
		assert.NotNil(t, cfg.Metrics)
	})
}

func TestServer_Start_ContextCancelStopsServer(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, batch.NewSummariser(batch.NewStore()), func() bool { return true }, prometheus.NewRegistry())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := s.Start(ctx, ln)

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	cancel()

	select {
	case err, ok := <-errCh:
		assert.False(t, ok, "expected closed channel, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to stop")
	}
}
