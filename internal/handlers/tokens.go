package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/auth"
	"github.com/leadforge/mission-service/internal/middleware"
)

// IssueToken issues a scoped operator token. Scopes outside the configured
// allow-list are dropped; an empty result is rejected.
// @Summary Issue a scoped token
// @Tags auth
// @Accept json
// @Produce json
// @Param X-Internal-API-Key header string true "Internal API key"
// @Param request body auth.IssueRequest false "Token request"
// @Success 201 {object} auth.IssuedToken
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Router /auth/tokens [post]
func (h *Handlers) IssueToken(c *gin.Context) {
	var req auth.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.AbortWithError(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}
	tok, err := h.deps.Auth.Issue(req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tok)
}
