package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

type healthCheck struct {
	Status    string  `json:"status"`
	LatencyMs float64 `json:"latencyMs,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type hostStats struct {
	MemoryTotal       uint64  `json:"memoryTotal"`
	MemoryUsed        uint64  `json:"memoryUsed"`
	MemoryUsedPercent float64 `json:"memoryUsedPercent"`
	Load1             float64 `json:"load1"`
	Load5             float64 `json:"load5"`
	Load15            float64 `json:"load15"`
	CPUs              int     `json:"cpus"`
}

type detailedHealth struct {
	Status        string           `json:"status"`
	UptimeSeconds int64            `json:"uptimeSeconds"`
	Checks        map[string]healthCheck `json:"checks"`
	Host          *hostStats       `json:"host,omitempty"`
	Goroutines    int              `json:"goroutines"`
	PendingJobs   int              `json:"pendingJobs"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthDetailed pings the database and reports host figures. A failed
// ping turns the response into a 503.
func (h *Handler) HealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	out := detailedHealth{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Checks:        map[string]healthCheck{},
		Goroutines:    runtime.NumGoroutine(),
	}
	if h.queue != nil {
		out.PendingJobs = h.queue.Pending()
	}

	start := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		out.Status = "degraded"
		out.Checks["database"] = healthCheck{Status: "down", Error: err.Error()}
	} else {
		out.Checks["database"] = healthCheck{Status: "up", LatencyMs: float64(time.Since(start).Microseconds()) / 1000}
	}

	host := &hostStats{CPUs: runtime.NumCPU()}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		host.MemoryTotal, host.MemoryUsed, host.MemoryUsedPercent = vm.Total, vm.Used, vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		host.Load1, host.Load5, host.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	out.Host = host

	status := http.StatusOK
	if out.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, out)
}
