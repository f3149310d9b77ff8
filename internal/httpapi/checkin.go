package httpapi

import (
	"errors"
	"net/http"
	"time"

	"octopus-controlplane/pkg/api"
	"octopus-controlplane/pkg/middleware"
	"octopus-controlplane/services/liveness"
	"octopus-controlplane/services/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) Heartbeat(c *gin.Context) {
	var req api.HeartbeatRequest
	if !bindJSON(c, &req) {
		return
	}

	hb := liveness.Heartbeat{
		ClientID:     req.ClientID,
		Hostname:     req.Hostname,
		IPAddress:    req.IPAddress,
		Platform:     req.Platform,
		Version:      req.Version,
		Capabilities: req.Capabilities,
	}
	if hb.IPAddress == "" {
		hb.IPAddress = c.ClientIP()
	}
	if req.Timestamp != nil {
		hb.Timestamp = *req.Timestamp
	}

	view, err := h.tracker.RecordHeartbeat(c.Request.Context(), hb)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.HeartbeatResponse{
		ClientID:      view.ClientID,
		LastHeartbeat: view.LastHeartbeat,
		Liveness:      string(view.Liveness),
	})
}

// AssignedTasks runs a rate-limited scheduler tick, then returns what the
// client should execute.
func (h *Handler) AssignedTasks(c *gin.Context) {
	ctx := c.Request.Context()
	clientID := c.Param("id")

	if _, err := h.scheduler.Tick(ctx, false); err != nil {
		zap.L().Warn("[HTTP] scheduler tick on check-in failed", zap.Error(err))
	}

	tasks, err := h.tasks.ListAssignedTasks(ctx, clientID)
	if err != nil {
		fail(c, err)
		return
	}

	out := api.AssignedTasksResponse{ClientID: clientID, Tasks: make([]api.AssignedTask, 0, len(tasks))}
	for _, t := range tasks {
		out.Tasks = append(out.Tasks, toAssigned(t))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Claim(c *gin.Context) {
	var req api.ClaimRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	if req.ClientID == "" {
		req.ClientID = middleware.ClientID(c)
	}

	t, err := h.tasks.Claim(c.Request.Context(), c.Param("id"), req.ClientID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.ClaimResponse{TaskID: t.ID, ClientID: req.ClientID, Granted: true})
}

func (h *Handler) Report(c *gin.Context) {
	var req api.ReportRequest
	if !bindJSON(c, &req) {
		return
	}

	in := task.ReportInput{
		TaskID:   req.TaskID,
		ClientID: req.ClientID,
		Status:   req.Status,
		Result:   req.Result,
		Cycle:    req.Cycle,
	}
	if req.Attempt > 0 {
		in.Attempt = time.UnixMilli(req.Attempt).UTC()
	}

	exec, t, err := h.tasks.RecordResult(c.Request.Context(), in)
	if errors.Is(err, task.ErrTaskNotFound) {
		zap.L().Warn("[HTTP] dropped report for unknown task",
			zap.String("task_id", req.TaskID), zap.String("client_id", req.ClientID))
	}
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"execution":   exec,
		"task_status": t.Status,
	})
}

func (h *Handler) ListClients(c *gin.Context) {
	views, err := h.tracker.List(c.Request.Context(), h.now())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse[liveness.View]{Data: views})
}

func (h *Handler) GetClient(c *gin.Context) {
	view, err := h.tracker.Get(c.Request.Context(), c.Param("id"), h.now())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) SetClientStatus(c *gin.Context) {
	var req api.AdminStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.tracker.SetAdminStatus(c.Request.Context(), c.Param("id"), liveness.AdminStatus(req.Status))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func toAssigned(t *task.Task) api.AssignedTask {
	out := api.AssignedTask{
		ID:          t.ID,
		Owner:       t.Owner,
		Plugin:      t.Plugin,
		Action:      t.Action,
		Args:        []byte(t.Args),
		Kwargs:      []byte(t.Kwargs),
		Kind:        string(t.Kind),
		WindowStart: t.WindowStart,
		WindowEnd:   t.WindowEnd,
		Cycle:       t.Cycle,
	}
	if t.IntervalMs > 0 {
		out.Interval = t.Interval().String()
	}
	return out
}
