package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/mem"
	"gorm.io/gorm"

	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/status"
)

// HealthHandler handles the liveness endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	tasks     repository.TaskRepository
	hub       *status.Hub
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, db *gorm.DB, tasks repository.TaskRepository, hub *status.Hub) *HealthHandler {
	if version == "" {
		version = "dev"
	}
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		db:        db,
		tasks:     tasks,
		hub:       hub,
	}
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/healthz",
		Summary:     "Liveness check",
		Description: "Reports database reachability, queue occupancy, and websocket fan-out state",
		Tags:        []string{"System"},
	}, h.Get)
}

// HealthOutput is the output for the liveness check.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the liveness report body.
type HealthResponse struct {
	Status        string                `json:"status" enum:"ok,degraded"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Database      string                `json:"database" enum:"ok,error"`
	Queue         repository.TaskCounts `json:"queue"`
	Connections   int                   `json:"ws_connections"`
	Goroutines    int                   `json:"goroutines"`
	MemoryUsedPct float64               `json:"memory_used_pct,omitempty"`
}

// Get returns the liveness report.
func (h *HealthHandler) Get(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Database:      "ok",
		Goroutines:    runtime.NumGoroutine(),
	}

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		resp.Database = "error"
		resp.Status = "degraded"
	}

	if counts, err := h.tasks.Counts(ctx); err == nil {
		resp.Queue = counts
	} else {
		resp.Status = "degraded"
	}

	if h.hub != nil {
		resp.Connections = h.hub.ConnectionCount()
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemoryUsedPct = vm.UsedPercent
	}

	return &HealthOutput{Body: resp}, nil
}
