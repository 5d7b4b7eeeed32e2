package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadforge/mission-service/internal/middleware"
	"github.com/leadforge/mission-service/internal/missions"
)

const idempotencyHeader = "Idempotency-Key"

// TriggerMission queues the first task of a mission run. A repeated
// Idempotency-Key returns the task of the first call with 200; a new run
// answers 202.
// @Summary Trigger a mission run
// @Tags missions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Mission ID"
// @Param Idempotency-Key header string false "Idempotency key"
// @Success 200 {object} missions.TriggerResult "Existing run"
// @Success 202 {object} missions.TriggerResult "New run queued"
// @Failure 404 {object} middleware.ErrorResponse
// @Failure 429 {object} middleware.ErrorResponse "Search run quota exhausted"
// @Router /missions/{id}/trigger [post]
func (h *Handlers) TriggerMission(c *gin.Context) {
	res, err := h.deps.Trigger.Trigger(c.Request.Context(), missions.TriggerInput{
		OrganizationID: h.orgID,
		MissionID:      c.Param("id"),
		IdempotencyKey: c.GetHeader(idempotencyHeader),
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusAccepted
	}
	c.Header(idempotencyHeader, res.IdempotencyKey)
	c.JSON(status, res)
}

// GetQuotas reports today's usage against the configured limits.
// @Summary Quota status
// @Tags system
// @Produce json
// @Security BearerAuth
// @Success 200 {object} quota.Snapshot
// @Failure 500 {object} middleware.ErrorResponse
// @Router /quotas [get]
func (h *Handlers) GetQuotas(c *gin.Context) {
	snap, err := h.deps.Quota.Snapshot(c.Request.Context(), h.orgID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	if h.deps.Missions != nil {
		m, err := h.deps.Missions.Active(c.Request.Context(), h.orgID)
		switch {
		case err == nil:
			id := m.ID
			snap.ActiveMissionID = &id
		case errors.Is(err, missions.ErrNotFound):
		default:
			h.logger.Warn().Err(err).Msg("Failed to look up active mission")
		}
	}
	c.JSON(http.StatusOK, snap)
}
