package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/middleware"
	"github.com/leadforge/mission-service/internal/taskqueue"
)

// ListTasksRequest represents query parameters for listing tasks
type ListTasksRequest struct {
	Status         string `form:"status" json:"status,omitempty" jsonschema:"enum=pending,enum=processing,enum=completed,enum=failed"`
	Type           string `form:"type" json:"type,omitempty"`
	MissionID      string `form:"missionId" json:"missionId,omitempty"`
	Limit          int    `form:"limit" json:"limit,omitempty" jsonschema:"minimum=1,maximum=200"`
	IncludePayload bool   `form:"includePayload" json:"includePayload,omitempty"`
}

type TaskResponse struct {
	Task *taskqueue.Task `json:"task" jsonschema:"required"`
}

// RescueStuckRequest is the optional body of POST /tasks/rescue-stuck.
type RescueStuckRequest struct {
	OlderThanMinutes int `json:"olderThanMinutes,omitempty" jsonschema:"minimum=1,maximum=240"`
	Limit            int `json:"limit,omitempty" jsonschema:"minimum=1,maximum=500"`
}

type RescueStuckResponse struct {
	RescuedCount int               `json:"rescuedCount" jsonschema:"required"`
	CutoffISO    string            `json:"cutoffIso" jsonschema:"required"`
	Tasks        []*taskqueue.Task `json:"tasks" jsonschema:"required"`
}

// ListTasks returns tasks of the organization, newest first, with counts per
// status.
// @Summary List tasks
// @Tags tasks
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by status" Enums(pending, processing, completed, failed)
// @Param type query string false "Filter by task type"
// @Param missionId query string false "Filter by mission"
// @Param limit query int false "Number of items to return" default(50) minimum(1) maximum(200)
// @Param includePayload query bool false "Include payload and result"
// @Success 200 {object} taskqueue.ListResult
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 401 {object} middleware.ErrorResponse
// @Failure 403 {object} middleware.ErrorResponse
// @Router /tasks [get]
func (h *Handlers) ListTasks(c *gin.Context) {
	var req ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.AbortWithError(c, apperr.Validation(err.Error()))
		return
	}
	res, err := h.deps.Tasks.List(c.Request.Context(), taskqueue.ListFilter{
		OrganizationID: h.orgID,
		Status:         taskqueue.TaskStatus(req.Status),
		Type:           taskqueue.TaskType(req.Type),
		MissionID:      req.MissionID,
		Limit:          req.Limit,
		IncludePayload: req.IncludePayload,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetTask returns one task with its payload and result.
// @Summary Get a task
// @Tags tasks
// @Produce json
// @Security BearerAuth
// @Param id path string true "Task ID"
// @Success 200 {object} TaskResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /tasks/{id} [get]
func (h *Handlers) GetTask(c *gin.Context) {
	task, err := h.ownTask(c)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, TaskResponse{Task: task})
}

// CancelTask stops a pending, processing or failed task. A worker already
// running it is not interrupted; its late result is discarded.
// @Summary Cancel a task
// @Tags tasks
// @Produce json
// @Security BearerAuth
// @Param id path string true "Task ID"
// @Success 200 {object} TaskResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse "Task already completed"
// @Router /tasks/{id}/cancel [post]
func (h *Handlers) CancelTask(c *gin.Context) {
	if _, err := h.ownTask(c); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	task, err := h.deps.Tasks.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, TaskResponse{Task: task})
}

// RescueStuck returns tasks stuck in processing to pending.
// @Summary Rescue stuck tasks
// @Tags tasks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RescueStuckRequest false "Rescue options"
// @Success 200 {object} RescueStuckResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Router /tasks/rescue-stuck [post]
func (h *Handlers) RescueStuck(c *gin.Context) {
	var req RescueStuckRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		middleware.AbortWithError(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}
	res, err := h.deps.Tasks.RescueStuck(c.Request.Context(), taskqueue.RescueInput{
		OlderThanMinutes: req.OlderThanMinutes,
		Limit:            req.Limit,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	tasks := res.Tasks
	if tasks == nil {
		tasks = []*taskqueue.Task{}
	}
	c.JSON(http.StatusOK, RescueStuckResponse{
		RescuedCount: res.RescuedCount,
		CutoffISO:    res.Cutoff.UTC().Format(time.RFC3339),
		Tasks:        tasks,
	})
}

// ownTask loads the task named in the path. Tasks of another organization
// are reported as not found.
func (h *Handlers) ownTask(c *gin.Context) (*taskqueue.Task, error) {
	id := c.Param("id")
	task, err := h.deps.Tasks.Get(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if task.OrganizationID != h.orgID {
		return nil, apperr.NotFound(apperr.CodeTaskNotFound, "task not found").
			WithDetails(map[string]any{"taskId": id})
	}
	return task, nil
}
