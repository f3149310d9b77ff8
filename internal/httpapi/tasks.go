package httpapi

import (
	"net/http"
	"time"

	"octopus-controlplane/pkg/api"
	"octopus-controlplane/pkg/errutil"
	"octopus-controlplane/services/execution"
	"octopus-controlplane/services/task"

	"github.com/gin-gonic/gin"
)

func (h *Handler) CreateTask(c *gin.Context) {
	var req api.CreateTaskRequest
	if !bindJSON(c, &req) {
		return
	}

	kind, ok := task.ParseKind(req.Kind)
	if !ok {
		kind = task.Kind(req.Kind)
	}

	var interval time.Duration
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil {
			fail(c, errutil.ValidationFailed("invalid task", task.ErrValidation, errutil.WithDetails(
				errutil.Detail{Field: "interval", Message: "interval must be a duration such as 30s or 5m"},
			)))
			return
		}
		interval = d
	}

	t, err := h.tasks.CreateTask(c.Request.Context(), task.CreateInput{
		Owner:       req.Owner,
		Plugin:      req.Plugin,
		Action:      req.Action,
		Args:        req.Args,
		Kwargs:      req.Kwargs,
		Kind:        kind,
		Selector:    req.Selector,
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
		Interval:    interval,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTasks(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}

	f := task.Filter{
		Owner:    c.Query("owner"),
		Executor: c.Query("executor"),
	}
	if raw := c.Query("status"); raw != "" {
		st, ok := task.ParseStatus(raw)
		if !ok {
			fail(c, errutil.BadRequest("unknown status "+raw, nil))
			return
		}
		f.Status = st
	}
	if raw := c.Query("kind"); raw != "" {
		k, ok := task.ParseKind(raw)
		if !ok {
			fail(c, errutil.BadRequest("unknown kind "+raw, nil))
			return
		}
		f.Kind = k
	}

	rows, info, err := h.tasks.List(c.Request.Context(), f, page)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[*task.Task]{Data: rows, PageInfo: info})
}

type taskDetail struct {
	*task.Task
	Executions map[execution.Status]int64 `json:"executions"`
	Targets    []string                   `json:"targets,omitempty"`
}

func (h *Handler) GetTask(c *gin.Context) {
	ctx := c.Request.Context()
	t, err := h.tasks.Get(ctx, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	stats, err := h.ledger.Stats(ctx, t.ID)
	if err != nil {
		fail(c, err)
		return
	}

	detail := taskDetail{Task: t, Executions: stats}
	if t.OwnedByAll() {
		if detail.Targets, err = h.tasks.Targets(ctx, t.ID, t.Cycle); err != nil {
			fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) TaskExecutions(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}

	rows, info, err := h.tasks.Executions(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[*execution.Execution]{Data: rows, PageInfo: info})
}

func (h *Handler) ListExecutions(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}

	f := execution.Filter{
		TaskID:   c.Query("task_id"),
		ClientID: c.Query("client_id"),
	}
	if raw := c.Query("status"); raw != "" {
		st, ok := execution.NormalizeStatus(raw)
		if !ok {
			fail(c, errutil.BadRequest("unknown status "+raw, nil))
			return
		}
		f.Status = st
	}

	rows, info, err := h.ledger.List(c.Request.Context(), f, page)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[*execution.Execution]{Data: rows, PageInfo: info})
}
