package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/veles-productions/playout-core/internal/model"
)

// Snapshot is the data the health endpoint reports; populated by the
// outer process from the Engine, Capture, and Control Server (spec.md
// §4.8, §6.2).
type Snapshot struct {
	Engine      model.EngineState
	FPS         float64
	Dropped     uint64
	TotalFrames uint64
	Clients     int
	Version     string
}

// SnapshotSource is polled on every /health and /metrics request so the
// response always reflects current state rather than a stale cache.
type SnapshotSource func() Snapshot

// summaryResponse is the JSON body for GET /health.
type summaryResponse struct {
	Status      string  `json:"status"`
	Engine      string  `json:"engine"`
	FPS         float64 `json:"fps"`
	Dropped     uint64  `json:"dropped"`
	TotalFrames uint64  `json:"totalFrames"`
	UptimeSec   float64 `json:"uptimeSec"`
	Clients     int     `json:"clients"`
	Version     string  `json:"version"`
	Components  []Check `json:"components,omitempty"`
}

// Server is the minimal request/response health endpoint (spec.md
// §4.8): two routes, summary and Prometheus-format metrics. monitor
// tracks the individual component checks (engine liveness, host
// gauges) that handleHealth rolls up into the overall status.
type Server struct {
	source    SnapshotSource
	startedAt time.Time
	srv       *http.Server
	monitor   *Monitor

	cpuPercent atomic.Value // float64
}

// NewServer creates a Server that will call source on every request.
func NewServer(addr string, source SnapshotSource) *Server {
	s := &Server{source: source, startedAt: time.Now(), monitor: NewMonitor()}
	s.cpuPercent.Store(float64(0))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/", s.handleNotFound)

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving in a new goroutine. Returns immediately; errors
// from ListenAndServe after startup are logged, not returned.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server stopped", "error", err)
		}
	}()
	go s.sampleHostGauges()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) withCommonHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.withCommonHeaders(w)
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.source()
	stalled := (snap.Engine == model.StateOnAir || snap.Engine == model.StateFrozen) && snap.FPS == 0
	if stalled {
		s.monitor.Update("engine", Degraded, "engine on-air or frozen but no frames flowing")
	} else {
		s.monitor.Update("engine", Healthy, "")
	}

	cpuPct, _ := s.cpuPercent.Load().(float64)
	memPct := sampleMemPercent()
	s.monitor.Update("host", hostStatus(cpuPct, memPct), "")

	overall := s.monitor.Overall()

	resp := summaryResponse{
		Status:      "ok",
		Engine:      string(snap.Engine),
		FPS:         snap.FPS,
		Dropped:     snap.Dropped,
		TotalFrames: snap.TotalFrames,
		UptimeSec:   time.Since(s.startedAt).Seconds(),
		Clients:     snap.Clients,
		Version:     snap.Version,
		Components:  s.monitor.All(),
	}

	code := http.StatusOK
	if overall != Healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.withCommonHeaders(w)
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.source()
	cpuPct, _ := s.cpuPercent.Load().(float64)
	memPct := sampleMemPercent()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP playout_capture_fps Current measured capture frame rate.\n")
	fmt.Fprintf(w, "# TYPE playout_capture_fps gauge\n")
	fmt.Fprintf(w, "playout_capture_fps %g\n", snap.FPS)

	fmt.Fprintf(w, "# HELP playout_frames_dropped_total Frames dropped due to empty paint bitmaps.\n")
	fmt.Fprintf(w, "# TYPE playout_frames_dropped_total counter\n")
	fmt.Fprintf(w, "playout_frames_dropped_total %d\n", snap.Dropped)

	fmt.Fprintf(w, "# HELP playout_frames_total Total frames emitted by capture.\n")
	fmt.Fprintf(w, "# TYPE playout_frames_total counter\n")
	fmt.Fprintf(w, "playout_frames_total %d\n", snap.TotalFrames)

	fmt.Fprintf(w, "# HELP playout_control_clients Connected control channel clients.\n")
	fmt.Fprintf(w, "# TYPE playout_control_clients gauge\n")
	fmt.Fprintf(w, "playout_control_clients %d\n", snap.Clients)

	fmt.Fprintf(w, "# HELP playout_uptime_seconds Process uptime in seconds.\n")
	fmt.Fprintf(w, "# TYPE playout_uptime_seconds counter\n")
	fmt.Fprintf(w, "playout_uptime_seconds %g\n", time.Since(s.startedAt).Seconds())

	fmt.Fprintf(w, "# HELP playout_host_cpu_percent Host CPU utilization percent.\n")
	fmt.Fprintf(w, "# TYPE playout_host_cpu_percent gauge\n")
	fmt.Fprintf(w, "playout_host_cpu_percent %g\n", cpuPct)

	fmt.Fprintf(w, "# HELP playout_host_memory_percent Host memory utilization percent.\n")
	fmt.Fprintf(w, "# TYPE playout_host_memory_percent gauge\n")
	fmt.Fprintf(w, "playout_host_memory_percent %g\n", memPct)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.withCommonHeaders(w)
	http.NotFound(w, r)
}

// sampleHostGauges refreshes the gopsutil-derived host CPU gauge once
// per interval; /metrics reads the cached value rather than blocking a
// request on a syscall-heavy sample.
func (s *Server) sampleHostGauges() {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for range t.C {
		pcts, err := cpu.Percent(0, false)
		if err != nil || len(pcts) == 0 {
			continue
		}
		s.cpuPercent.Store(pcts[0])
	}
}

func sampleMemPercent() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.UsedPercent
}

// hostStatus maps the current CPU and memory percentages to a status:
// Unhealthy at 95% or more, Degraded at 80% or more, otherwise Healthy.
// Each call judges a single sample; no history is kept.
func hostStatus(cpuPct, memPct float64) Status {
	if cpuPct >= 95 || memPct >= 95 {
		return Unhealthy
	}
	if cpuPct >= 80 || memPct >= 80 {
		return Degraded
	}
	return Healthy
}
