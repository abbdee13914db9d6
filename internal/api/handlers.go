// Package api serves read-only size and job reports over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rossigee/cloudsize/internal/storage"
	"github.com/rossigee/cloudsize/pkg/types"
	"github.com/sirupsen/logrus"
)

// Version is reported by the health endpoint
var Version = "dev"

// SizeReporter answers size queries
type SizeReporter interface {
	SizeForPattern(ctx context.Context, pattern string) (*types.SizeResponse, error)
}

// JobLister lists stored jobs
type JobLister interface {
	ListJobs(ctx context.Context, filter storage.ListJobsFilter) ([]types.JobStatus, error)
}

// Handler handles HTTP API requests
type Handler struct {
	sizer   SizeReporter
	jobs    JobLister
	metrics http.Handler
	started time.Time
}

// NewHandler creates a new API handler. metrics may be nil.
func NewHandler(sizer SizeReporter, jobs JobLister, metrics http.Handler) *Handler {
	return &Handler{
		sizer:   sizer,
		jobs:    jobs,
		metrics: metrics,
		started: time.Now(),
	}
}

// SetupRoutes configures the API routes. The auth handlers guard every route but /health.
func SetupRoutes(router *gin.Engine, handler *Handler, auth ...gin.HandlerFunc) {
	api := router.Group("/api/v1", auth...)
	{
		api.GET("/size", handler.GetSize)
		api.GET("/jobs", handler.ListJobs)
	}

	if handler.metrics != nil {
		chain := append([]gin.HandlerFunc{}, auth...)
		router.GET("/metrics", append(chain, gin.WrapH(handler.metrics))...)
	}

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)
}

// GetSize reports the total size of files whose path contains the pattern
func (h *Handler) GetSize(c *gin.Context) {
	pattern, ok := c.GetQuery("pattern")
	if !ok {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: "pattern query parameter is required",
			Code:    400,
		})
		return
	}

	resp, err := h.sizer.SizeForPattern(c.Request.Context(), pattern)
	if err != nil {
		logrus.WithError(err).WithField("pattern", pattern).Error("Size query failed")
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "size query failed",
			Message: err.Error(),
			Code:    500,
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListJobs returns the stored jobs, optionally filtered by state
func (h *Handler) ListJobs(c *gin.Context) {
	filter := storage.ListJobsFilter{State: types.JobState(c.Query("state"))}

	switch filter.State {
	case "", types.StateProcessing, types.StateComplete:
	default:
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: "state must be Processing or Complete",
			Code:    400,
		})
		return
	}

	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: "limit must be a non-negative integer",
			Code:    400,
		})
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid request",
			Message: "offset must be a non-negative integer",
			Code:    400,
		})
		return
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		logrus.WithError(err).Error("Job listing failed")
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "job listing failed",
			Message: err.Error(),
			Code:    500,
		})
		return
	}

	c.JSON(http.StatusOK, types.JobsResponse{Jobs: jobs, Count: len(jobs)})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

// HealthCheck provides service health information
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, types.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}
