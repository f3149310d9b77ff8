// Package httpapi exposes the coordinator over HTTP: agent check-in,
// task authoring, the dashboard read model and plugin distribution.
package httpapi

import (
	"net/http"
	"time"

	"octopus-controlplane/pkg/api"
	"octopus-controlplane/pkg/config"
	"octopus-controlplane/pkg/db/pagination"
	"octopus-controlplane/pkg/errutil"
	"octopus-controlplane/pkg/health"
	"octopus-controlplane/services/execution"
	"octopus-controlplane/services/liveness"
	"octopus-controlplane/services/plugin"
	"octopus-controlplane/services/scheduler"
	"octopus-controlplane/services/task"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raulk/clock"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

type Handler struct {
	tracker   *liveness.Tracker
	tasks     *task.Service
	ledger    *execution.Ledger
	scheduler *scheduler.Scheduler
	plugins   *plugin.Service
	health    health.HealthService
	clock     clock.Clock
	maxUpload int64
}

type Params struct {
	fx.In
	Tracker   *liveness.Tracker
	Tasks     *task.Service
	Ledger    *execution.Ledger
	Scheduler *scheduler.Scheduler
	Plugins   *plugin.Service
	Config    *config.Config       `optional:"true"`
	Health    health.HealthService `optional:"true"`
	Clock     clock.Clock          `optional:"true"`
}

func NewHandler(p Params) *Handler {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	maxUpload := int64(plugin.DefaultMaxArtifactSize)
	if p.Config != nil && p.Config.Plugin.MaxArtifactSize > 0 {
		maxUpload = p.Config.Plugin.MaxArtifactSize
	}
	return &Handler{
		tracker:   p.Tracker,
		tasks:     p.Tasks,
		ledger:    p.Ledger,
		scheduler: p.Scheduler,
		plugins:   p.Plugins,
		health:    p.Health,
		clock:     clk,
		maxUpload: maxUpload,
	}
}

func Register(r *gin.Engine, h *Handler) {
	if h.health != nil {
		r.GET("/healthz", h.health.Liveness)
		r.GET("/readyz", h.health.Readiness)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group(api.BasePath)

	v1.POST("/heartbeat", h.Heartbeat)
	v1.GET("/clients", h.ListClients)
	v1.GET("/clients/:id", h.GetClient)
	v1.PUT("/clients/:id/status", h.SetClientStatus)
	v1.GET("/clients/:id/tasks", h.AssignedTasks)

	v1.POST("/tasks", h.CreateTask)
	v1.GET("/tasks", h.ListTasks)
	v1.GET("/tasks/:id", h.GetTask)
	v1.GET("/tasks/:id/executions", h.TaskExecutions)
	v1.POST("/tasks/:id/claim", h.Claim)

	v1.POST("/executions", h.Report)
	v1.GET("/executions", h.ListExecutions)

	v1.POST("/scheduler/sweep", h.Sweep)

	v1.GET("/plugins", h.Manifest)
	v1.GET("/plugins/:name", h.FetchPlugin)
	v1.PUT("/plugins/:name", h.PublishPlugin)
}

func (h *Handler) now() time.Time {
	return h.clock.Now().UTC()
}

type listResponse[T any] struct {
	Data     []T                  `json:"data"`
	PageInfo *pagination.PageInfo `json:"page_info,omitempty"`
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return false
	}
	return true
}

func bindPage(c *gin.Context) (pagination.Pagination, bool) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return page, false
	}
	return page.Normalize(), true
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
}

func (h *Handler) Sweep(c *gin.Context) {
	report, err := h.scheduler.SweepNow(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
