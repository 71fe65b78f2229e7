package coordinator

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jobmesh/platform/internal/httpapi/response"
	"github.com/jobmesh/platform/internal/platform/apierr"
)

type BotsHandler struct {
	svc *Service
}

func NewBotsHandler(svc *Service) *BotsHandler {
	return &BotsHandler{svc: svc}
}

// Register handles POST /v1/bots/register.
func (h *BotsHandler) Register(c *gin.Context) {
	idempotencyKey := c.GetHeader("Idempotency-Key")
	if idempotencyKey == "" {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errIdempotencyKeyRequired))
		return
	}
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "VALIDATION", err)
		return
	}
	resp, replayed, err := h.svc.Register(c.Request.Context(), idempotencyKey, req)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	if replayed {
		c.Header("Idempotency-Replayed", "true")
	}
	response.RespondOK(c, resp)
}

// Heartbeat handles POST /bots/heartbeat.
func (h *BotsHandler) Heartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "VALIDATION", err)
		return
	}
	botID, err := uuid.Parse(req.BotID)
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidBotID))
		return
	}
	worker, err := h.svc.Heartbeat(c.Request.Context(), botID)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondOK(c, workerToView(worker))
}

// List handles GET /bots.
func (h *BotsHandler) List(c *gin.Context) {
	includeDeleted := c.Query("include_deleted") == "true"
	limit, offset := paginationParams(c)
	workers, err := h.svc.ListWorkers(c.Request.Context(), includeDeleted, limit, offset)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	views := make([]WorkerView, 0, len(workers))
	for _, w := range workers {
		views = append(views, workerToView(w))
	}
	response.RespondOK(c, gin.H{"bots": views})
}

// GetStats handles GET /bots/{id}/stats.
func (h *BotsHandler) GetStats(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidBotID))
		return
	}
	stats, err := h.svc.WorkerStats(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondOK(c, stats)
}

// Delete handles DELETE /bots/{id} (admin).
func (h *BotsHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidBotID))
		return
	}
	if err := h.svc.SoftDeleteWorker(c.Request.Context(), id); err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondNoContent(c)
}

// Reset handles POST /bots/{id}/reset (admin).
func (h *BotsHandler) Reset(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidBotID))
		return
	}
	worker, err := h.svc.ResetWorker(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondOK(c, workerToView(worker))
}

// Restart handles POST /bots/{id}/restart (admin); operationally identical
// to reset at the coordinator (the distinction matters only to the worker
// process the operator is instructing out-of-band to restart).
func (h *BotsHandler) Restart(c *gin.Context) {
	h.Reset(c)
}

// AssignOperation handles POST /bots/{id}/assign-operation (admin).
func (h *BotsHandler) AssignOperation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidBotID))
		return
	}
	var req AssignOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "VALIDATION", err)
		return
	}
	if err := h.svc.AssignOperation(c.Request.Context(), id, req.Operation); err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondNoContent(c)
}

func paginationParams(c *gin.Context) (limit, offset int) {
	limit = 100
	offset = 0
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
