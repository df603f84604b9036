package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voxelstrike/netcore/internal/input"
	"voxelstrike/netcore/internal/logging"
	"voxelstrike/netcore/internal/networking"
	"voxelstrike/netcore/internal/replay"
	"voxelstrike/netcore/internal/server"
	"voxelstrike/netcore/internal/simulation"
	"voxelstrike/netcore/internal/state"
)

type stubReadiness struct {
	clients int
	peers   int
	uptime  time.Duration
	err     error
}

func (s *stubReadiness) SnapshotClientCounts() (int, int) { return s.clients, s.peers }
func (s *stubReadiness) StartupError() error              { return s.err }
func (s *stubReadiness) Uptime() time.Duration            { return s.uptime }

type stubFlusher struct {
	location string
	err      error
	calls    int
}

func (s *stubFlusher) FlushDemo(ctx context.Context) (string, error) {
	s.calls++
	return s.location, s.err
}

func TestLivenessHandlerReturnsJSON(t *testing.T) {
	fixed := time.Date(2026, time.January, 2, 15, 4, 5, 0, time.UTC)
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), TimeSource: func() time.Time { return fixed }})
	rr := httptest.NewRecorder()
	handlers.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get(logging.TraceIDHeader) == "" {
		t.Fatalf("expected the trace middleware to set a trace id")
	}
	var payload struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "alive" || payload.Timestamp != fixed.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestReadinessHandlerUnavailable(t *testing.T) {
	readiness := &stubReadiness{clients: 3, peers: 4, uptime: 45 * time.Second, err: errors.New("listen failed")}
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Readiness: readiness})

	rr := httptest.NewRecorder()
	handlers.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload struct {
		Status        string  `json:"status"`
		Message       string  `json:"message"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
		Peers         int     `json:"peers"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "error" || payload.Message != "listen failed" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Clients != 3 || payload.Peers != 4 || payload.UptimeSeconds != 45 {
		t.Fatalf("unexpected counts: %+v", payload)
	}
}

func TestMetricsHandlerOutputsPrometheusFormat(t *testing.T) {
	snapshots := networking.NewSnapshotMetrics()
	snapshots.Observe(2, 1000, 400)
	snapshots.Observe(1, 500, 500)
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Readiness:   &stubReadiness{clients: 2, peers: 3, uptime: 90 * time.Second},
		ServerStats: func() server.Stats { return server.Stats{Tick: 900, Starving: 1, Respawns: 4} },
		TickStats: func() simulation.TickMetricsSnapshot {
			return simulation.TickMetricsSnapshot{Average: 2 * time.Millisecond, Max: 5 * time.Millisecond, Overruns: 1}
		},
		GateDrops: func() map[state.EntityID]input.DropCounters {
			return map[state.EntityID]input.DropCounters{1: {Sequence: 12, RateLimited: 1}}
		},
		Snapshots:   snapshots,
		Corrections: func() uint64 { return 7 },
		DemoStats:   func() replay.Stats { return replay.Stats{BufferedFrames: 30, Dumps: 2} },
	})

	rr := httptest.NewRecorder()
	handlers.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if got := rr.Header().Get("Content-Type"); got != "text/plain; version=0.0.4" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rr.Body.String()
	for _, substr := range []string{
		"netcore_uptime_seconds 90",
		"netcore_clients 2",
		"netcore_peers 3",
		"netcore_server_tick 900",
		"netcore_starving_clients 1",
		"netcore_tick_duration_seconds_avg 0.002000",
		"netcore_tick_overruns_total 1",
		`netcore_input_drops_total{client="1",reason="sequence"} 12`,
		`netcore_input_drops_total{client="1",reason="rate_limit"} 1`,
		`netcore_snapshot_bytes_per_client{client="2"} 400`,
		"netcore_snapshot_deliveries_total 2",
		"netcore_prediction_corrections_total 7",
		"netcore_demo_buffer_frames 30",
		"netcore_demo_dumps_total 2",
	} {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics missing %q:\n%s", substr, body)
		}
	}
	if strings.Index(body, `client="1"} 500`) > strings.Index(body, `client="2"} 400`) {
		t.Fatalf("expected per-client samples in id order:\n%s", body)
	}
}

func TestDemoFlushHandlerAuthAndRateLimits(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	flusher := &stubFlusher{location: "/var/demos/match-1"}
	handlers := NewHandlerSet(Options{
		Logger:      logging.NewTestLogger(),
		Demo:        flusher,
		AdminToken:  "topsecret",
		RateLimiter: NewFlushLimiter(time.Minute, 1, func() time.Time { return now }),
	})
	handler := handlers.Handler()

	request := func(method, token string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(method, "/demo/flush", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		handler.ServeHTTP(rr, req)
		return rr
	}

	if resp := request(http.MethodGet, "topsecret"); resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", resp.Code)
	}
	if resp := request(http.MethodPost, ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for missing token, got %d", resp.Code)
	}
	if resp := request(http.MethodPost, "wrong"); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for a wrong token, got %d", resp.Code)
	}
	resp := request(http.MethodPost, "topsecret")
	if resp.Code != http.StatusAccepted || !strings.Contains(resp.Body.String(), flusher.location) {
		t.Fatalf("expected 202 with the location, got %d %s", resp.Code, resp.Body.String())
	}
	if flusher.calls != 1 {
		t.Fatalf("expected flusher invoked once, got %d", flusher.calls)
	}
	limited := request(http.MethodPost, "topsecret")
	if limited.Code != http.StatusTooManyRequests || limited.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected rate limit with Retry-After, got %d %q", limited.Code, limited.Header().Get("Retry-After"))
	}
}

func TestDemoFlushHandlerWithoutAdminToken(t *testing.T) {
	handlers := NewHandlerSet(Options{Logger: logging.NewTestLogger(), Demo: &stubFlusher{}})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/demo/flush", nil)
	req.Header.Set("Authorization", "Bearer anything")
	handlers.DemoFlushHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when admin auth is disabled, got %d", rr.Code)
	}
}
