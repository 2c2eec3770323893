package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "airbot/pkg/logx"
)

var fakeMetrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	_, _ = io.WriteString(w, "airbot_up 1\n")
})

func TestRouterEndpoints(t *testing.T) {
	t.Parallel()
	healthy := true
	s := New(Config{}, fakeMetrics, func() (bool, map[string]any) {
		return healthy, map[string]any{"transport_ready": healthy}
	}, logx.Nop())

	tests := []struct {
		name string
		cfg  Config
		path string
		code int
	}{
		{"health", Config{}, "/healthz", http.StatusOK},
		{"metrics on", Config{Metrics: true}, "/metrics", http.StatusOK},
		{"metrics off", Config{}, "/metrics", http.StatusNotFound},
		{"pprof off", Config{}, "/debug/pprof/", http.StatusNotFound},
		{"pprof on", Config{Pprof: true}, "/debug/pprof/", http.StatusOK},
		{"pprof named", Config{Pprof: true}, "/debug/pprof/goroutine?debug=1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Router(tt.cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.code {
				t.Fatalf("GET %s = %d, want %d", tt.path, rec.Code, tt.code)
			}
		})
	}

	healthy = false
	rec := httptest.NewRecorder()
	s.Router(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "degraded" || body["transport_ready"] != false {
		t.Fatalf("unhealthy response = %d %v", rec.Code, body)
	}
}

func waitBound(t *testing.T, s *Service) string {
	t.Helper()
	b := s.Bound()
	if b == nil {
		t.Fatalf("service not started")
	}
	select {
	case <-b:
	case <-time.After(2 * time.Second):
		t.Fatalf("listener not bound")
	}
	return s.Addr()
}

func TestServiceApplyLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(Config{}, fakeMetrics, nil, logx.Nop())

	s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Metrics: true})
	addr := waitBound(t, s)

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), "airbot_up 1") {
		t.Fatalf("metrics body = %q", b)
	}

	// Turning metrics off restarts the server without the route.
	s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	addr = waitBound(t, s)
	resp, err = http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("metrics after disable = %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s.Apply(stopCtx, Config{Enabled: false})
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatalf("service still running after disable")
	}
}
