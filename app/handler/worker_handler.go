package handler

import (
	"errors"
	"net/http"

	"starbench/internal/model"
	"starbench/internal/service"
	"starbench/pkg/logger"
	"starbench/pkg/pool"

	"github.com/gin-gonic/gin"
)

// WorkerHandler handles the worker-facing registration and heartbeat API
type WorkerHandler struct {
	workerService *service.WorkerService
}

// NewWorkerHandler creates a new worker handler
func NewWorkerHandler(workerService *service.WorkerService) *WorkerHandler {
	return &WorkerHandler{workerService: workerService}
}

// Register admits a worker into the pool
// @Summary Register worker
// @Description Worker announces its endpoint and capacity on startup
// @Tags worker
// @Accept json
// @Produce json
// @Param request body model.RegisterRequest true "Worker endpoint and capacity"
// @Success 200 {object} model.RegisterResponse
// @Router /v2/workers/register [post]
func (h *WorkerHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint required"})
		return
	}

	worker, err := h.workerService.Register(c.Request.Context(), &req)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to register worker: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.RegisterResponse{WorkerID: worker.ID})
}

// Heartbeat records a worker liveness ping
// @Summary Worker heartbeat
// @Description Worker sends periodic heartbeat to stay eligible for sessions
// @Tags worker
// @Produce json
// @Param worker_id path string true "Worker ID"
// @Success 200 {object} map[string]string
// @Router /v2/ping/{worker_id} [get]
func (h *WorkerHandler) Heartbeat(c *gin.Context) {
	workerID := c.Param("worker_id")
	if workerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id required in URL path"})
		return
	}

	if err := h.workerService.Heartbeat(c.Request.Context(), workerID); err != nil {
		if errors.Is(err, pool.ErrUnknownWorker) {
			// Drained or never registered: tell the worker to re-register.
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown worker"})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "failed to handle heartbeat: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetWorkerList returns all workers in the pool
func (h *WorkerHandler) GetWorkerList(c *gin.Context) {
	workers := h.workerService.ListWorkers()
	c.JSON(http.StatusOK, gin.H{"workers": workers, "count": len(workers)})
}

// GetWorker returns one worker record
func (h *WorkerHandler) GetWorker(c *gin.Context) {
	workerID := c.Param("worker_id")
	worker, ok := h.workerService.GetWorker(workerID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown worker"})
		return
	}
	c.JSON(http.StatusOK, worker)
}
