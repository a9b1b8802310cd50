package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/ravenholt/forgepanel/internal/adapter"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Fleet         FleetMetrics   `json:"fleet"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// FleetMetrics contains managed server statistics.
type FleetMetrics struct {
	Total    int            `json:"total"`
	Running  int            `json:"running"`
	ByStatus map[string]int `json:"by_status"`
}

// handleMetrics returns system metrics for monitoring.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
	}

	byStatus := make(map[string]int)
	snapshots, err := s.fleet.Snapshots(r.Context())
	if err != nil {
		s.logger.Error("fleet snapshot failed for metrics", "error", err)
	} else {
		for _, snap := range snapshots {
			byStatus[string(snap.Status)]++
		}
	}
	metrics.Fleet = FleetMetrics{
		Total:    s.fleet.Count(),
		Running:  byStatus[string(adapter.StatusRunning)],
		ByStatus: byStatus,
	}

	writeJSON(w, http.StatusOK, metrics)
}
