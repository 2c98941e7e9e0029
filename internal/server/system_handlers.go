package server

import (
	"errors"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/dynamo/internal/database"
	"github.com/aristath/dynamo/internal/scheduler"
)

// JobRunner lists scheduled jobs and runs them on demand
type JobRunner interface {
	Jobs() []scheduler.JobInfo
	Trigger(name string) error
}

// DatabaseStatus reports one database in the status response
type DatabaseStatus struct {
	Name         string `json:"name"`
	Profile      string `json:"profile"`
	Healthy      bool   `json:"healthy"`
	SizeBytes    int64  `json:"size_bytes"`
	WALSizeBytes int64  `json:"wal_size_bytes"`
}

// SystemStatus is the /api/system/status payload
type SystemStatus struct {
	Status        string              `json:"status"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	CPUPercent    float64             `json:"cpu_percent"`
	MemoryPercent float64             `json:"memory_percent"`
	Goroutines    int                 `json:"goroutines"`
	Databases     []DatabaseStatus    `json:"databases"`
	Jobs          []scheduler.JobInfo `json:"jobs"`
}

// SystemHandlers serves system monitoring endpoints
type SystemHandlers struct {
	databases map[string]*database.DB
	jobs      JobRunner
	started   time.Time
	sample    func() (float64, float64)
	log       zerolog.Logger
}

// NewSystemHandlers creates system handlers. jobs may be nil.
func NewSystemHandlers(databases map[string]*database.DB, jobs JobRunner, log zerolog.Logger) *SystemHandlers {
	h := &SystemHandlers{
		databases: databases,
		jobs:      jobs,
		started:   time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
	}
	h.sample = h.getSystemStats
	return h
}

// HandleSystemStatus returns process, host and database health
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.sample()

	status := SystemStatus{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		Databases:     make([]DatabaseStatus, 0, len(h.databases)),
		Jobs:          []scheduler.JobInfo{},
	}

	names := make([]string, 0, len(h.databases))
	for name := range h.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		db := h.databases[name]
		entry := DatabaseStatus{Name: name, Profile: string(db.Profile()), Healthy: true}

		if err := db.HealthCheck(r.Context()); err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("Database health check failed")
			entry.Healthy = false
			status.Status = "degraded"
		}
		if stats, err := db.GetStats(); err == nil {
			entry.SizeBytes = stats.SizeBytes
			entry.WALSizeBytes = stats.WALSizeBytes
		}
		status.Databases = append(status.Databases, entry)
	}

	if h.jobs != nil {
		status.Jobs = h.jobs.Jobs()
	}

	writeJSON(w, http.StatusOK, status, h.log)
}

// HandleJobsStatus lists registered jobs with their next run
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobInfo{}
	if h.jobs != nil {
		jobs = h.jobs.Jobs()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"jobs": jobs},
	}, h.log)
}

// HandleTriggerJob runs a registered job immediately
// POST /api/system/jobs/{name}/run
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		writeError(w, http.StatusNotFound, "Job not found", h.log)
		return
	}

	if err := h.jobs.Trigger(name); err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "Job not found", h.log)
			return
		}
		h.log.Error().Err(err).Str("job", name).Msg("Triggered job failed")
		writeError(w, http.StatusInternalServerError, "Job failed", h.log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"job": name, "status": "completed"},
	}, h.log)
}

// getSystemStats returns CPU and RAM usage percentages
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
