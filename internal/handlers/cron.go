package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/middleware"
)

// CronTick runs one processor tick and waits for it.
// @Summary Run one processor tick
// @Tags cron
// @Produce json
// @Security BearerAuth
// @Success 200 {object} workers.TickResult
// @Failure 500 {object} middleware.ErrorResponse
// @Router /cron/tick [post]
func (h *Handlers) CronTick(c *gin.Context) {
	if h.deps.Processor == nil {
		middleware.AbortWithError(c, apperr.Config(apperr.CodeConfigInvalid, "processor is not configured"))
		return
	}
	ctx, cancel := h.cronContext(c)
	defer cancel()
	res, err := h.deps.Processor.Tick(ctx)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CronFollowups queues the campaign follow-ups that are due.
// @Summary Run the follow-up scheduler
// @Tags cron
// @Produce json
// @Security BearerAuth
// @Success 200 {object} followup.RunResult
// @Failure 500 {object} middleware.ErrorResponse
// @Router /cron/followups [post]
func (h *Handlers) CronFollowups(c *gin.Context) {
	if h.deps.Followups == nil {
		middleware.AbortWithError(c, apperr.Config(apperr.CodeConfigInvalid, "follow-up scheduler is not configured"))
		return
	}
	ctx, cancel := h.cronContext(c)
	defer cancel()
	res, err := h.deps.Followups.Run(ctx)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// cronContext bounds a cron request so the response is written before the
// server write timeout.
func (h *Handlers) cronContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.deps.CronTimeout)
}
