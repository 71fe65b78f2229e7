package coordinator

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jobmesh/platform/internal/auth"
	"github.com/jobmesh/platform/internal/httpapi/response"
)

// AuthHandler serves the two unauthenticated C2 endpoints: token issuance
// and the public verification key set.
type AuthHandler struct {
	auth *auth.Service
	jwks auth.Jwks
}

func NewAuthHandler(authSvc *auth.Service, jwksDoc auth.Jwks) *AuthHandler {
	return &AuthHandler{auth: authSvc, jwks: jwksDoc}
}

// IssueToken handles POST /v1/auth/token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "VALIDATION", err)
		return
	}
	clientVersion := c.GetHeader("X-Client-Version")
	envelope, err := h.auth.IssueToken(c.Request.Context(), req.BotKey, req.BootstrapSecret, clientVersion, []string{"register", "work"})
	if err != nil {
		response.RespondAPIErr(c, err)
		return
	}
	response.RespondOK(c, TokenResponse{
		AccessToken: envelope.AccessToken,
		TokenType:   envelope.TokenType,
		ExpiresIn:   envelope.ExpiresIn,
		IssuedAt:    envelope.IssuedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// JWKS handles GET /v1/auth/.well-known/jwks.
func (h *AuthHandler) JWKS(c *gin.Context) {
	response.RespondOK(c, h.jwks)
}
