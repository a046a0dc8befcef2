package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pricehawk/scan-service/internal/alerts"
	"github.com/pricehawk/scan-service/internal/database"
	"github.com/pricehawk/scan-service/internal/health"
	"github.com/pricehawk/scan-service/internal/scan"
	"github.com/pricehawk/scan-service/internal/scheduler"
	"github.com/pricehawk/scan-service/internal/types"
)

// ScanHandler exposes scan-engine operations over HTTP
type ScanHandler struct {
	engine *scan.Engine
	sched  *scheduler.Scheduler
	health *health.Tracker
	alerts *alerts.Pipeline
	rdb    *redis.Client
	logger zerolog.Logger

	mu       sync.Mutex
	running  bool
	progress *scan.Progress
	lastJob  *types.ScanJob
}

// NewScanHandler wires the scan endpoints. alertPipe may be nil when
// alerting is disabled.
func NewScanHandler(engine *scan.Engine, sched *scheduler.Scheduler, tracker *health.Tracker, alertPipe *alerts.Pipeline, rdb *redis.Client, logger zerolog.Logger) *ScanHandler {
	return &ScanHandler{
		engine: engine,
		sched:  sched,
		health: tracker,
		alerts: alertPipe,
		rdb:    rdb,
		logger: logger.With().Str("component", "scan_handler").Logger(),
	}
}

// TriggerScanRequest selects what to scan. Empty selection means every
// enabled category that the scheduler considers due.
type TriggerScanRequest struct {
	CategoryIDs []string `json:"category_ids"`
	Store       string   `json:"store"`
	All         bool     `json:"all"`
}

// TriggerScan starts a manual scan job in the background
// @Summary Trigger scan
// @Description Starts a scan over the selected categories and returns the job id
// @Tags scans
// @Accept json
// @Produce json
// @Success 202 {object} types.ScanJob
// @Failure 400 {object} map[string]string "Bad request"
// @Failure 409 {object} map[string]string "A scan is already running"
// @Router /internal/scans [post]
func (h *ScanHandler) TriggerScan(c *gin.Context) {
	var req TriggerScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	categories, err := h.selectCategories(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load categories"})
		return
	}
	if len(categories) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No matching categories to scan"})
		return
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "A scan is already running"})
		return
	}
	h.running = true
	h.mu.Unlock()

	job := &types.ScanJob{Kind: types.JobManual}
	h.mu.Lock()
	h.lastJob = job
	h.mu.Unlock()

	// The job outlives the request
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()
		defer func() {
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
		}()

		progress, err := h.engine.ScanMany(ctx, job, categories, func(cat *types.Category, result *types.ScanResult) {
			if h.alerts == nil || len(result.Deals) == 0 {
				return
			}
			emitted, alertErr := h.alerts.ProcessBatch(ctx, result.Deals)
			if alertErr != nil {
				h.logger.Warn().Err(alertErr).Str("category", cat.Name).Msg("Alert batch had failures")
			}
			h.logger.Debug().Str("category", cat.Name).Int("emitted", emitted).Msg("Alerts processed")
		})
		if err != nil {
			h.logger.Error().Err(err).Msg("Scan job failed to start")
			return
		}
		h.mu.Lock()
		h.progress = progress
		h.mu.Unlock()
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"job":        job,
		"categories": len(categories),
	})
}

func (h *ScanHandler) selectCategories(ctx context.Context, req TriggerScanRequest) ([]*types.Category, error) {
	all, err := database.ListCategories(ctx, true)
	if err != nil {
		return nil, err
	}

	if len(req.CategoryIDs) > 0 {
		wanted := make(map[string]bool, len(req.CategoryIDs))
		for _, id := range req.CategoryIDs {
			wanted[id] = true
		}
		var picked []*types.Category
		for _, cat := range all {
			if wanted[cat.ID] {
				picked = append(picked, cat)
			}
		}
		return picked, nil
	}

	if req.Store != "" {
		var picked []*types.Category
		for _, cat := range all {
			if cat.Store == req.Store {
				picked = append(picked, cat)
			}
		}
		return picked, nil
	}

	if req.All {
		return all, nil
	}
	return h.sched.Due(all, time.Now()), nil
}

// GetJob returns one scan job by id
func (h *ScanHandler) GetJob(c *gin.Context) {
	job, err := database.GetScanJob(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs returns the most recent scan jobs
func (h *ScanHandler) ListJobs(c *gin.Context) {
	jobs, err := database.ListRecentScanJobs(c.Request.Context(), 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

// scheduleEntry is one row of the schedule preview
type scheduleEntry struct {
	CategoryID        string  `json:"category_id"`
	Name              string  `json:"name"`
	Store             string  `json:"store"`
	Due               bool    `json:"due"`
	EffectiveInterval string  `json:"effective_interval"`
	PriorityScore     float64 `json:"priority_score"`
}

// PreviewSchedule shows what the scheduler would pick right now
func (h *ScanHandler) PreviewSchedule(c *gin.Context) {
	categories, err := database.ListCategories(c.Request.Context(), true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list categories"})
		return
	}

	now := time.Now()
	entries := make([]scheduleEntry, 0, len(categories))
	for _, cat := range categories {
		entries = append(entries, scheduleEntry{
			CategoryID:        cat.ID,
			Name:              cat.Name,
			Store:             cat.Store,
			Due:               h.sched.IsDue(cat, now),
			EffectiveInterval: h.sched.EffectiveInterval(cat).String(),
			PriorityScore:     h.sched.PriorityScore(cat, now),
		})
	}

	c.JSON(http.StatusOK, gin.H{"schedule": entries, "due": len(h.sched.Due(categories, now))})
}

// Status reports subsystem health: database, redis, per-store health and
// the current job if one is running
func (h *ScanHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	status := gin.H{"status": "ok"}

	if database.Pool() != nil {
		if err := database.Status(ctx); err != nil {
			status["database"] = "disconnected"
		} else {
			status["database"] = "connected"
		}
	}

	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			status["redis"] = "disconnected"
		} else {
			status["redis"] = "connected"
		}
	}

	if h.health != nil {
		stores := gin.H{}
		for _, store := range h.health.Stores() {
			stores[store] = h.health.Summarize(store)
		}
		status["stores"] = stores
	}

	h.mu.Lock()
	status["scan_running"] = h.running
	if h.lastJob != nil {
		status["last_job"] = h.lastJob
	}
	h.mu.Unlock()

	c.JSON(http.StatusOK, status)
}

// LatestResults exposes the most recent scan's per-category results
func (h *ScanHandler) LatestResults(c *gin.Context) {
	h.mu.Lock()
	progress := h.progress
	h.mu.Unlock()

	if progress == nil {
		c.JSON(http.StatusOK, gin.H{"results": []*types.ScanResult{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": progress.Snapshot()})
}

// latestDeals collects deals across the most recent scan's results
func (h *ScanHandler) latestDeals() []types.DetectedDeal {
	h.mu.Lock()
	progress := h.progress
	h.mu.Unlock()

	if progress == nil {
		return nil
	}
	var deals []types.DetectedDeal
	for _, r := range progress.Snapshot() {
		deals = append(deals, r.Deals...)
	}
	return deals
}
