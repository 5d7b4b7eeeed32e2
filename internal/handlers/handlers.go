// Package handlers exposes the operator HTTP API.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/leadforge/mission-service/internal/auth"
	"github.com/leadforge/mission-service/internal/followup"
	"github.com/leadforge/mission-service/internal/middleware"
	"github.com/leadforge/mission-service/internal/missions"
	"github.com/leadforge/mission-service/internal/quota"
	"github.com/leadforge/mission-service/internal/taskqueue"
	"github.com/leadforge/mission-service/internal/workers"
)

type TaskService interface {
	Get(ctx context.Context, id string) (*taskqueue.Task, error)
	List(ctx context.Context, f taskqueue.ListFilter) (*taskqueue.ListResult, error)
	Cancel(ctx context.Context, id string) (*taskqueue.Task, error)
	RescueStuck(ctx context.Context, in taskqueue.RescueInput) (*taskqueue.RescueResult, error)
}

type Triggerer interface {
	Trigger(ctx context.Context, in missions.TriggerInput) (*missions.TriggerResult, error)
}

type QuotaReporter interface {
	Snapshot(ctx context.Context, organizationID string) (*quota.Snapshot, error)
}

type ActiveMissions interface {
	Active(ctx context.Context, organizationID string) (*missions.Mission, error)
}

type Ticker interface {
	Tick(ctx context.Context) (*workers.TickResult, error)
}

type FollowupRunner interface {
	Run(ctx context.Context) (*followup.RunResult, error)
}

// Pinger reports database reachability for the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Auth        *auth.Service
	Tasks       TaskService
	Trigger     Triggerer
	Quota       QuotaReporter
	Missions    ActiveMissions
	Processor   Ticker
	Followups   FollowupRunner
	DB          Pinger
	InternalKey string
	// CronTimeout bounds the /cron/* handlers. Zero means defaultCronTimeout.
	CronTimeout time.Duration
}

type Handlers struct {
	deps   Deps
	orgID  string
	logger zerolog.Logger
}

// defaultCronTimeout covers two waves of 45s tasks.
const defaultCronTimeout = 100 * time.Second

func New(deps Deps, logger zerolog.Logger) *Handlers {
	if deps.CronTimeout <= 0 {
		deps.CronTimeout = defaultCronTimeout
	}
	return &Handlers{
		deps:   deps,
		orgID:  deps.Auth.OrganizationID(),
		logger: logger.With().Str("component", "handlers").Logger(),
	}
}

// Register mounts every route on r. limiter may be nil to disable rate
// limiting.
func (h *Handlers) Register(r gin.IRouter, limiter *middleware.IPRateLimiter) {
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("")
	if limiter != nil {
		api.Use(middleware.RateLimitMiddleware(limiter))
	}
	scoped := func(scopes ...string) gin.HandlerFunc {
		return middleware.RequireScopes(h.deps.Auth, scopes...)
	}

	api.POST("/auth/tokens", middleware.InternalAuthMiddleware(h.deps.InternalKey), h.IssueToken)

	api.POST("/missions/:id/trigger", scoped(auth.ScopeMissionsRun), h.TriggerMission)

	api.GET("/tasks", scoped(auth.ScopeTasksRead), h.ListTasks)
	api.GET("/tasks/:id", scoped(auth.ScopeTasksRead), h.GetTask)
	api.POST("/tasks/:id/cancel", scoped(auth.ScopeTasksAdmin), h.CancelTask)
	api.POST("/tasks/rescue-stuck", scoped(auth.ScopeTasksAdmin), h.RescueStuck)

	api.GET("/quotas", scoped(auth.ScopeSystemRead), h.GetQuotas)

	api.POST("/cron/tick", scoped(auth.ScopeTasksProcess), h.CronTick)
	api.POST("/cron/followups", scoped(auth.ScopeCampaignsRun), h.CronFollowups)
}
