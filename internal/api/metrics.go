package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/microcoaster-core/internal/events"
)

// healthCheckTimeout bounds each dependency probe in GET /health.
const healthCheckTimeout = 3 * time.Second

// SystemMetrics is the response of GET /admin/stats.
type SystemMetrics struct {
	Timestamp     string               `json:"timestamp"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Runtime       RuntimeMetrics       `json:"runtime"`
	Fleet         events.StatsSnapshot `json:"fleet"`
	MQTT          MQTTMetrics          `json:"mqtt"`
	Database      *DatabaseMetrics     `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// MQTTMetrics contains MQTT mirror status.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleAdminStats returns registry and presence statistics plus process metrics.
func (s *Server) handleAdminStats(w http.ResponseWriter, _ *http.Request) {
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
		Fleet: s.events.Stats(),
	}

	if s.mqttConnected != nil {
		metrics.MQTT = MQTTMetrics{Enabled: true, Connected: s.mqttConnected()}
	}
	if s.dbStats != nil {
		db := s.dbStats()
		metrics.Database = &db
	}

	writeJSON(w, http.StatusOK, metrics)
}

// handleHealth reports liveness plus the result of every dependency probe.
// Any failing probe turns the response into 503 "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.health))
	healthy := true

	for _, hc := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := hc.Check(ctx)
		cancel()

		if err != nil {
			healthy = false
			checks[hc.Name] = err.Error()
			continue
		}
		checks[hc.Name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	online, _ := s.presence.Counts()
	writeJSON(w, code, map[string]any{
		"status":         status,
		"version":        s.version,
		"checks":         checks,
		"modules_online": online,
		"clients":        s.hub.ClientCount(),
	})
}
