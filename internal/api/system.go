package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-monitor/internal/supervision"
)

// SystemStatus represents the GET /system response.
type SystemStatus struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Caches        CacheMetrics    `json:"caches"`
	Supervision   map[string]int  `json:"supervision"`
	Database      DatabaseMetrics `json:"database"`
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

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
}

// CacheMetrics counts cached entries per store.
type CacheMetrics struct {
	Tags         int `json:"tags"`
	InvalidTags  int `json:"invalid_tags"`
	Commands     int `json:"commands"`
	Processes    int `json:"processes"`
	Equipment    int `json:"equipment"`
	SubEquipment int `json:"subequipment"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleSystemStatus returns a JSON summary of the running monitor. The
// Prometheus endpoint carries the detailed counters.
func (s *Server) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Supervision: make(map[string]int),
	}

	if s.hub != nil {
		status.WebSocket.ConnectedClients = s.hub.ClientCount()
	}

	if s.broker != nil {
		status.MQTT = MQTTMetrics{Configured: true, Connected: s.broker.IsConnected()}
	}

	tags := s.monitor.Tags().GetAll()
	status.Caches.Tags = len(tags)
	for _, t := range tags {
		if !t.Quality.IsValid() {
			status.Caches.InvalidTags++
		}
	}
	status.Caches.Commands = s.monitor.Commands().Len()

	entities := s.monitor.Entities()
	status.Caches.Processes = entities.Processes.Len()
	status.Caches.Equipment = entities.Equipment.Len()
	status.Caches.SubEquipment = entities.SubEquipment.Len()
	for _, f := range supervision.Families {
		store, err := entities.Of(f)
		if err != nil {
			continue
		}
		for _, e := range store.GetAll() {
			status.Supervision[string(e.Status)]++
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		status.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, status)
}
