// Package httpapi serves the operational endpoints of a game server or bot:
// liveness, readiness, Prometheus text metrics and the admin demo flush.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"voxelstrike/netcore/internal/input"
	"voxelstrike/netcore/internal/logging"
	"voxelstrike/netcore/internal/networking"
	"voxelstrike/netcore/internal/replay"
	"voxelstrike/netcore/internal/server"
	"voxelstrike/netcore/internal/simulation"
	"voxelstrike/netcore/internal/state"
)

// ReadinessProvider exposes process state required for readiness checks.
type ReadinessProvider interface {
	SnapshotClientCounts() (clients, peers int)
	StartupError() error
	Uptime() time.Duration
}

// DemoFlusher writes the buffered demo and returns its location.
type DemoFlusher interface {
	FlushDemo(ctx context.Context) (string, error)
}

// DemoFlusherFunc adapts a function into a DemoFlusher.
type DemoFlusherFunc func(ctx context.Context) (string, error)

// FlushDemo implements DemoFlusher.
func (f DemoFlusherFunc) FlushDemo(ctx context.Context) (string, error) { return f(ctx) }

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

type retryAfter interface {
	RetryAfter() time.Duration
}

// Options configures the HandlerSet. Every source is optional; missing ones
// are left out of the metrics.
type Options struct {
	Logger       *logging.Logger
	Readiness    ReadinessProvider
	ServerStats  func() server.Stats
	TickStats    func() simulation.TickMetricsSnapshot
	GateDrops    func() map[state.EntityID]input.DropCounters
	Snapshots    *networking.SnapshotMetrics
	Bandwidth    *networking.BandwidthRegulator
	Corrections  func() uint64
	Demo         DemoFlusher
	DemoStats    func() replay.Stats
	StorageStats func() replay.StorageStats
	AdminToken   string
	RateLimiter  RateLimiter
	TimeSource   func() time.Time
}

// HandlerSet bundles the operational handlers.
type HandlerSet struct {
	opts       Options
	logger     *logging.Logger
	adminToken string
	now        func() time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		opts:       opts,
		logger:     logger,
		adminToken: strings.TrimSpace(opts.AdminToken),
		now:        now,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/demo/flush", h.DemoFlushHandler())
}

// Handler returns a mux with every route behind the trace middleware.
func (h *HandlerSet) Handler() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return logging.HTTPTraceMiddleware(h.logger)(mux)
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including client counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Clients       int     `json:"clients"`
		Peers         int     `json:"peers"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.opts.Readiness != nil {
			resp.Clients, resp.Peers = h.opts.Readiness.SnapshotClientCounts()
			resp.UptimeSeconds = h.opts.Readiness.Uptime().Seconds()
			if err := h.opts.Readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := metricWriter{w: w}

		if h.opts.Readiness != nil {
			clients, peers := h.opts.Readiness.SnapshotClientCounts()
			m.gauge("netcore_uptime_seconds", "Process uptime in seconds.", fmt.Sprintf("%.0f", h.opts.Readiness.Uptime().Seconds()))
			m.gauge("netcore_clients", "Players that completed the handshake.", strconv.Itoa(clients))
			m.gauge("netcore_peers", "Transport peers including pending handshakes.", strconv.Itoa(peers))
		}
		if h.opts.ServerStats != nil {
			stats := h.opts.ServerStats()
			m.counter("netcore_server_tick", "Current authoritative server tick.", strconv.FormatUint(uint64(stats.Tick), 10))
			m.gauge("netcore_starving_clients", "Players whose input buffer is starving.", strconv.Itoa(stats.Starving))
			m.gauge("netcore_projectiles", "Live projectiles in the world.", strconv.Itoa(stats.Projectiles))
			m.counter("netcore_respawns_total", "Player respawns.", strconv.FormatUint(stats.Respawns, 10))
			m.counter("netcore_rejected_inputs_total", "Inputs rejected by sanitisation.", strconv.FormatUint(stats.RejectedInputs, 10))
			m.counter("netcore_decode_errors_total", "Undecodable packets received.", strconv.FormatUint(stats.DecodeErrors, 10))
		}
		if h.opts.TickStats != nil {
			ticks := h.opts.TickStats()
			m.gauge("netcore_tick_duration_seconds_avg", "Average simulation tick duration.", seconds(ticks.Average))
			m.gauge("netcore_tick_duration_seconds_max", "Maximum simulation tick duration.", seconds(ticks.Max))
			m.gauge("netcore_tick_duration_seconds_last", "Most recent simulation tick duration.", seconds(ticks.Last))
			m.counter("netcore_tick_overruns_total", "Ticks that exceeded their budget.", strconv.Itoa(ticks.Overruns))
			m.counter("netcore_ticks_skipped_total", "Ticks dropped to recover from a stall.", strconv.Itoa(ticks.Skipped))
		}
		if h.opts.GateDrops != nil {
			drops := h.opts.GateDrops()
			m.header("netcore_input_drops_total", "Inputs dropped by the gate per client and reason.", "counter")
			for _, id := range sortedIDs(drops) {
				c := drops[id]
				m.sample("netcore_input_drops_total", fmt.Sprintf(`client="%d",reason="sequence"`, id), strconv.FormatUint(c.Sequence, 10))
				m.sample("netcore_input_drops_total", fmt.Sprintf(`client="%d",reason="gap"`, id), strconv.FormatUint(c.Gap, 10))
				m.sample("netcore_input_drops_total", fmt.Sprintf(`client="%d",reason="rate_limit"`, id), strconv.FormatUint(c.RateLimited, 10))
			}
		}
		if s := h.opts.Snapshots; s != nil {
			bytes := s.BytesPerClient()
			m.header("netcore_snapshot_bytes_per_client", "Last encoded world update size per client in bytes.", "gauge")
			for _, id := range sortedIDs(bytes) {
				m.sample("netcore_snapshot_bytes_per_client", fmt.Sprintf(`client="%d"`, id), strconv.FormatInt(bytes[id], 10))
			}
			dropped := s.DropCounts()
			m.header("netcore_snapshot_dropped_total", "World updates the transport refused per client.", "counter")
			for _, id := range sortedIDs(dropped) {
				m.sample("netcore_snapshot_dropped_total", fmt.Sprintf(`client="%d"`, id), strconv.FormatInt(dropped[id], 10))
			}
			m.gauge("netcore_snapshot_compression_savings_ratio", "Share of world update bytes saved by compression.", fmt.Sprintf("%.4f", s.CompressionSavings()))
			m.counter("netcore_snapshot_deliveries_total", "World updates delivered.", strconv.FormatInt(s.Deliveries(), 10))
		}
		if b := h.opts.Bandwidth; b != nil {
			usage := b.SnapshotUsage()
			if len(usage) > 0 {
				ids := sortedIDs(usage)
				m.header("netcore_bandwidth_bytes_per_second", "Observed outbound bandwidth per client in bytes per second.", "gauge")
				for _, id := range ids {
					m.sample("netcore_bandwidth_bytes_per_second", fmt.Sprintf(`client="%d"`, id), fmt.Sprintf("%.2f", usage[id].BytesPerSecond))
				}
				m.header("netcore_bandwidth_denied_total", "World updates throttled per client.", "counter")
				for _, id := range ids {
					m.sample("netcore_bandwidth_denied_total", fmt.Sprintf(`client="%d"`, id), strconv.FormatInt(usage[id].DeniedDeliveries, 10))
				}
			}
		}
		if h.opts.Corrections != nil {
			m.counter("netcore_prediction_corrections_total", "Client prediction corrections.", strconv.FormatUint(h.opts.Corrections(), 10))
		}
		if h.opts.DemoStats != nil {
			stats := h.opts.DemoStats()
			m.gauge("netcore_demo_buffer_frames", "Buffered demo frames awaiting flush.", strconv.Itoa(stats.BufferedFrames))
			m.gauge("netcore_demo_buffer_bytes", "Buffered demo payload size in bytes.", strconv.FormatInt(stats.BufferedBytes, 10))
			m.counter("netcore_demo_evicted_frames_total", "Demo frames evicted from the buffer.", strconv.FormatUint(stats.Evicted, 10))
			m.counter("netcore_demo_dumps_total", "Demo flushes completed.", strconv.FormatInt(stats.Dumps, 10))
		}
		if h.opts.StorageStats != nil {
			stats := h.opts.StorageStats()
			m.gauge("netcore_demo_storage_bundles", "Demo bundles on disk.", strconv.Itoa(stats.Bundles))
			m.gauge("netcore_demo_storage_bytes", "Demo bytes on disk.", strconv.FormatInt(stats.Bytes, 10))
		}
	}
}

// DemoFlushHandler authorises and triggers a demo flush.
func (h *HandlerSet) DemoFlushHandler() http.HandlerFunc {
	type response struct {
		Status   string `json:"status"`
		Location string `json:"location,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "demo_flush"),
			logging.String("remote_addr", r.RemoteAddr),
			logging.String("trace_id", logging.TraceIDFromContext(r.Context())),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("demo flush denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("demo flush denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if limiter := h.opts.RateLimiter; limiter != nil && !limiter.Allow() {
			if ra, ok := limiter.(retryAfter); ok {
				wait := int(math.Ceil(ra.RetryAfter().Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(wait))
			}
			reqLogger.Warn("demo flush denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.opts.Demo == nil {
			reqLogger.Warn("demo flush denied: no recorder configured")
			http.Error(w, "demo recording is unavailable", http.StatusServiceUnavailable)
			return
		}
		location, err := h.opts.Demo.FlushDemo(r.Context())
		if err != nil {
			reqLogger.Error("demo flush failed", logging.Error(err))
			http.Error(w, "failed to flush demo", http.StatusInternalServerError)
			return
		}
		reqLogger.Info("demo flushed", logging.String("location", location))
		writeJSON(w, http.StatusAccepted, response{Status: "accepted", Location: location})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

type metricWriter struct {
	w io.Writer
}

func (m metricWriter) header(name, help, kind string) {
	fmt.Fprintf(m.w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(m.w, "# TYPE %s %s\n", name, kind)
}

func (m metricWriter) sample(name, labels, value string) {
	if labels == "" {
		fmt.Fprintf(m.w, "%s %s\n", name, value)
		return
	}
	fmt.Fprintf(m.w, "%s{%s} %s\n", name, labels, value)
}

func (m metricWriter) gauge(name, help, value string) {
	m.header(name, help, "gauge")
	m.sample(name, "", value)
}

func (m metricWriter) counter(name, help, value string) {
	m.header(name, help, "counter")
	m.sample(name, "", value)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}

func sortedIDs[V any](m map[state.EntityID]V) []state.EntityID {
	ids := make([]state.EntityID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
