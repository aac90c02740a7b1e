package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/crm-core/internal/infrastructure/config"
	"github.com/nerrad567/crm-core/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol sent to /api/v2/write.
type fakeInflux struct {
	*httptest.Server

	mu     sync.Mutex
	lines  []string
	health int
	reject bool
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{health: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			f.mu.Lock()
			status := f.health
			f.mu.Unlock()
			w.WriteHeader(status)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			f.mu.Lock()
			if f.reject {
				f.mu.Unlock()
				http.Error(w, `{"code":"invalid","message":"bad line"}`, http.StatusBadRequest)
				return
			}
			for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "crm-test-token",
		Org:           "crm",
		Bucket:        "auth",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, f *fakeInflux) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client := connect(t, newFakeInflux(t))

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	f := newFakeInflux(t)
	url := f.URL
	f.Close()

	_, err := influxdb.Connect(context.Background(), testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := testConfig(f.URL)
	cfg.BatchSize = -1
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() with non-positive batch settings error = %v", err)
	}
	client.Close() //nolint:errcheck // Test cleanup
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	f.mu.Lock()
	f.health = http.StatusServiceUnavailable
	f.mu.Unlock()

	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail when /ping is not 204")
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteAuthEvent(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	client.WriteAuthEvent("login", "failure", "", "fallback", "", at)
	client.WriteAuthEvent("refresh", "success", "admin", "durable", "usr-1a2b3c4d", at)
	client.Flush()

	lines := f.written()
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2: %v", len(lines), lines)
	}

	if want := "auth_events,action=login,mode=fallback,outcome=failure count=1i"; !strings.HasPrefix(lines[0], want) {
		t.Errorf("line 0 = %q, want prefix %q", lines[0], want)
	}
	for _, part := range []string{"action=refresh", "role=admin", `subject_id="usr-1a2b3c4d"`} {
		if !strings.Contains(lines[1], part) {
			t.Errorf("line 1 = %q, missing %q", lines[1], part)
		}
	}
	if !strings.HasSuffix(lines[1], "1772355600000000000") {
		t.Errorf("line 1 = %q, want timestamp of the event", lines[1])
	}
}

func TestWriteStoreMode(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	now := time.Now()
	client.WriteStoreMode("fallback", now)
	client.WriteStoreMode("durable", now)
	client.Flush()

	lines := f.written()
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "store_mode,mode=fallback durable=0i") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "store_mode,mode=durable durable=1i") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestClose(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(context.Background(), testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Writes and flushes after close are no-ops.
	client.WriteAuthEvent("logout", "success", "", "", "", time.Now())
	client.Flush()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
}

func TestWrite_RejectedBatch(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	f.mu.Lock()
	f.reject = true
	f.mu.Unlock()

	got := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case got <- err:
		default:
		}
	})

	client.WriteStoreMode("fallback", time.Now())
	client.Flush()

	select {
	case err := <-got:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("handler error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("error handler not called for a rejected batch")
	}
	if client.Failures() == 0 {
		t.Error("Failures() = 0 after a rejected batch")
	}
}

func TestClose_Twice(t *testing.T) {
	client := connect(t, newFakeInflux(t))
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}
