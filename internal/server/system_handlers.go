package server

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"findata/internal/database"
)

// SystemHandlers handles system monitoring requests.
type SystemHandlers struct {
	log         zerolog.Logger
	cacheDB     *database.DB
	startupTime time.Time
}

// NewSystemHandlers creates the system monitoring handlers.
func NewSystemHandlers(log zerolog.Logger, cacheDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		cacheDB:     cacheDB,
		startupTime: time.Now(),
	}
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
			"cpu_percent":    cpuPercent,
			"ram_percent":    ramPercent,
			"goroutines":     runtime.NumGoroutine(),
			"cache_db_mb":    h.getCacheDBSize(),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, response)
}

// getSystemStats calculates CPU and RAM usage percentages. CPU is
// sampled over 100ms to keep the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// getCacheDBSize returns the cache database file size in megabytes.
func (h *SystemHandlers) getCacheDBSize() float64 {
	if h.cacheDB == nil {
		return 0
	}
	info, err := os.Stat(h.cacheDB.Path())
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to stat cache database")
		return 0
	}
	return float64(info.Size()) / 1024 / 1024
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
