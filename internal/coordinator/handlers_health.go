package coordinator

import (
	"github.com/gin-gonic/gin"

	"github.com/jobmesh/platform/internal/httpapi/response"
	"github.com/jobmesh/platform/internal/store"
)

type HealthHandler struct {
	db *store.DB
}

func NewHealthHandler(db *store.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Healthz handles GET /healthz: a shallow liveness probe the worker's health
// gate (§4.5.2) polls.
func (h *HealthHandler) Healthz(c *gin.Context) {
	response.RespondOK(c, gin.H{"status": "ok"})
}
