package coordinator

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jobmesh/platform/internal/domain"
	"github.com/jobmesh/platform/internal/httpapi/response"
	"github.com/jobmesh/platform/internal/platform/apierr"
)

type JobsHandler struct {
	svc *Service
}

func NewJobsHandler(svc *Service) *JobsHandler {
	return &JobsHandler{svc: svc}
}

// Claim handles POST /jobs/claim — §4.3.3's atomic claim.
func (h *JobsHandler) Claim(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "VALIDATION", err)
		return
	}
	botID, err := uuid.Parse(req.BotID)
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidBotID))
		return
	}
	job, err := h.svc.Claim(c.Request.Context(), botID)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	if job == nil {
		response.RespondNoContent(c)
		return
	}
	response.RespondOK(c, jobToView(job))
}

// Start handles POST /jobs/{id}/start.
func (h *JobsHandler) Start(c *gin.Context) {
	jobID, botID, ok := h.parseJobAndBot(c, func() (string, error) {
		var req ClaimRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", err
		}
		return req.BotID, nil
	})
	if !ok {
		return
	}
	job, err := h.svc.Start(c.Request.Context(), jobID, botID)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondOK(c, jobToView(job))
}

// Complete handles POST /jobs/{id}/complete.
func (h *JobsHandler) Complete(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidJobID))
		return
	}
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "VALIDATION", err)
		return
	}
	botID, err := uuid.Parse(req.BotID)
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidBotID))
		return
	}
	job, result, err := h.svc.Complete(c.Request.Context(), jobID, botID, req.Value, time.Duration(req.DurationMS)*time.Millisecond)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": jobToView(job), "result": resultToView(result)})
}

// Fail handles POST /jobs/{id}/fail.
func (h *JobsHandler) Fail(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidJobID))
		return
	}
	var req FailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "VALIDATION", err)
		return
	}
	botID, err := uuid.Parse(req.BotID)
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidBotID))
		return
	}
	job, result, err := h.svc.Fail(c.Request.Context(), jobID, botID, req.Error, time.Duration(req.DurationMS)*time.Millisecond)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": jobToView(job), "result": resultToView(result)})
}

// GetByID handles GET /jobs/{id}.
func (h *JobsHandler) GetByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidJobID))
		return
	}
	job, err := h.svc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondOK(c, jobToView(job))
}

// List handles GET /jobs.
func (h *JobsHandler) List(c *gin.Context) {
	status := c.Query("status")
	limit, offset := paginationParams(c)
	jobs, err := h.svc.ListJobs(c.Request.Context(), status, limit, offset)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobToView(j))
	}
	response.RespondOK(c, gin.H{"jobs": views})
}

// Populate handles POST /jobs/populate (admin).
func (h *JobsHandler) Populate(c *gin.Context) {
	var req PopulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "VALIDATION", err)
		return
	}
	created, err := h.svc.Populate(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondCreated(c, PopulateResponse{Created: created})
}

func resultToView(r *domain.Result) ResultView {
	return ResultView{
		ID:          r.ID.String(),
		JobID:       r.JobID.String(),
		A:           r.A,
		B:           r.B,
		Operation:   r.Operation,
		Value:       r.Value,
		ProcessedBy: r.ProcessedBy.String(),
		DurationMS:  r.DurationMS,
		Status:      string(r.Status),
		Error:       r.Error,
		ProcessedAt: r.ProcessedAt,
	}
}

func (h *JobsHandler) parseJobAndBot(c *gin.Context, readBotID func() (string, error)) (uuid.UUID, uuid.UUID, bool) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidJobID))
		return uuid.Nil, uuid.Nil, false
	}
	botIDStr, err := readBotID()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "VALIDATION", err)
		return uuid.Nil, uuid.Nil, false
	}
	botID, err := uuid.Parse(botIDStr)
	if err != nil {
		response.RespondAPIErr(c, apierr.Of(apierr.Validation, errInvalidBotID))
		return uuid.Nil, uuid.Nil, false
	}
	return jobID, botID, true
}
