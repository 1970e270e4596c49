package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/bridges/knx"
	mqttbridge "github.com/metaneutrons/snapdog2-sub010/internal/bridges/mqtt"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                    `json:"timestamp"`
	Version       string                    `json:"version"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Runtime       RuntimeMetrics            `json:"runtime"`
	WebSocket     WSMetrics                 `json:"websocket"`
	MQTT          *mqttbridge.BridgeMetrics `json:"mqtt,omitempty"`
	KNX           *knx.BridgeMetrics        `json:"knx,omitempty"`
	Features      int                       `json:"features"`
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
	ConnectedClients int    `json:"connected_clients"`
	Broadcasts       uint64 `json:"broadcasts"`
	Dropped          uint64 `json:"dropped"`
}

// handleMetrics returns process and bridge metrics. Command statistics are
// served by the SERVER_STATS feature.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
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
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			Broadcasts:       s.hub.Broadcasts(),
			Dropped:          s.hub.Dropped(),
		},
		Features: s.registry.Len(),
	}

	if s.mqtt != nil {
		m := s.mqtt.GetMetrics()
		metrics.MQTT = &m
	}
	if s.knx != nil {
		k := s.knx.GetMetrics()
		metrics.KNX = &k
	}

	writeJSON(w, http.StatusOK, metrics)
}
