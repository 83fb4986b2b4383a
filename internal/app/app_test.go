package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloudpico-station/internal/cache"
	"cloudpico-station/internal/config"
	"cloudpico-station/internal/transport"
	"cloudpico-station/internal/types"
)

type collector struct {
	online atomic.Bool

	mu       sync.Mutex
	readings int
	statuses int
}

func newCollector(t *testing.T) (*collector, *httptest.Server) {
	t.Helper()
	c := &collector{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if !c.online.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/status", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.statuses++
		c.mu.Unlock()
	})
	mux.HandleFunc("POST /api/reading", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.readings++
		c.mu.Unlock()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return c, srv
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readings
}

func testConfig(t *testing.T, collectorURL string) config.Config {
	t.Helper()
	return config.Config{
		AppEnv:          "dev",
		StationID:       "test",
		DataDir:         filepath.Join(t.TempDir(), "sd"),
		FallbackDataDir: filepath.Join(t.TempDir(), "flash"),
		CacheFile:       "cache.json",
		LogFile:         "log.json",
		LogBackend:      "json",
		Transport:       "http",
		CollectorURL:    collectorURL,
		TimeSource:      "none",
		SampleTarget:    3,
		SampleMaxErrors: 2,
		TimeWait:        time.Second,
		QNHTimeout:      time.Second,
		ProbeTimeout:    time.Second,
		UploadTimeout:   time.Second,
		DrainTimeout:    5 * time.Second,
		DisplayTimeout:  time.Minute,
		WakeHour:        0,
		SleepHour:       0,
		CycleSchedule:   "@every 1h",
		HTTPAddr:        "127.0.0.1:0",
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	hw := hardware{hasNetwork: func() bool { return true }}
	a, err := newApp(context.Background(), cfg, discard(), hw)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestApp_OfflineThenFlush(t *testing.T) {
	for _, backend := range []string{"json", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			col, srv := newCollector(t)
			cfg := testConfig(t, srv.URL)
			cfg.LogBackend = backend
			a := newTestApp(t, cfg)
			ctx := context.Background()

			if !a.Status().Has(types.Network) || a.Status().Has(types.Pressure) {
				t.Fatalf("status = %v", a.Status())
			}

			out, err := a.RunCycle(ctx)
			if err != nil {
				t.Fatalf("RunCycle: %v", err)
			}
			if out.Online || !out.Buffered {
				t.Fatalf("offline outcome = %+v", out)
			}
			if _, err := a.Flush(ctx); !errors.Is(err, transport.ErrUnreachable) {
				t.Fatalf("Flush offline err = %v, want ErrUnreachable", err)
			}

			col.online.Store(true)
			n, err := a.Flush(ctx)
			if err != nil || n != 1 {
				t.Fatalf("Flush = %d, %v; want 1, nil", n, err)
			}
			if col.count() != 1 {
				t.Errorf("collector got %d readings", col.count())
			}
			recs, err := a.Backlog(ctx)
			if err != nil || len(recs) != 0 {
				t.Errorf("Backlog = %v, %v", recs, err)
			}
		})
	}
}

func TestApp_OnlineCycleRecordsContact(t *testing.T) {
	col, srv := newCollector(t)
	col.online.Store(true)
	a := newTestApp(t, testConfig(t, srv.URL))

	out, err := a.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !out.Uploaded {
		t.Fatalf("outcome = %+v", out)
	}
	entries, err := a.CacheEntries()
	if err != nil {
		t.Fatalf("CacheEntries: %v", err)
	}
	if got := entries[cache.KeyServer].Timestamp; got != out.Reading.Timestamp {
		t.Errorf("SERVER = %q, want %q", got, out.Reading.Timestamp)
	}
	if entries[cache.KeyQNH].Value == nil {
		t.Error("default QNH entry missing value")
	}

	h := a.Health(context.Background())
	if h.Status != "ok" || h.Cycles != 1 || !h.Online || h.LastCycle != out.Reading.Timestamp {
		t.Errorf("health = %+v", h)
	}
}

func TestApp_FallsBackToSecondDataDir(t *testing.T) {
	_, srv := newCollector(t)
	cfg := testConfig(t, srv.URL)
	blocker := filepath.Join(t.TempDir(), "sd")
	if err := os.WriteFile(blocker, []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.DataDir = blocker
	a := newTestApp(t, cfg)
	if _, err := a.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	recs, err := a.Backlog(context.Background())
	if err != nil || len(recs) != 1 {
		t.Fatalf("Backlog = %d, %v", len(recs), err)
	}
}

func TestApp_SleepAdvice(t *testing.T) {
	_, srv := newCollector(t)
	a := newTestApp(t, testConfig(t, srv.URL))
	if _, sleep := a.SleepAdvice(); sleep {
		t.Error("equal wake and sleep hours should disable the window")
	}

	h := time.Now().Hour()
	a.cfg.WakeHour, a.cfg.SleepHour = (h+1)%24, (h+2)%24
	if d, sleep := a.SleepAdvice(); !sleep || d <= 0 || d > time.Hour {
		t.Errorf("SleepAdvice = %v, %v; want sleep under an hour", d, sleep)
	}
}

func TestServe_RunsCycleAndStops(t *testing.T) {
	_, srv := newCollector(t)
	a := newTestApp(t, testConfig(t, srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for a.Health(context.Background()).Cycles == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("no cycle ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve err = %v, want context.Canceled", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestServe_BadSchedule(t *testing.T) {
	_, srv := newCollector(t)
	cfg := testConfig(t, srv.URL)
	cfg.CycleSchedule = "every so often"
	a := newTestApp(t, cfg)
	if err := a.Serve(context.Background()); err == nil {
		t.Fatal("Serve with bad schedule: error = nil")
	}
}
