// Package api holds the JSON bodies exchanged between agents and the
// coordinator.
package api

import (
	"encoding/json"
	"time"
)

const (
	BasePath          = "/api/v1"
	HeaderContentHash = "X-Content-Hash"
	HeaderClientID    = "X-Octopus-Client"
)

type HeartbeatRequest struct {
	ClientID     string     `json:"client_id" binding:"required"`
	Hostname     string     `json:"hostname"`
	IPAddress    string     `json:"ip_address,omitempty"`
	Platform     string     `json:"platform,omitempty"`
	Version      string     `json:"version,omitempty"`
	Capabilities []string   `json:"capabilities,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

type HeartbeatResponse struct {
	ClientID      string    `json:"client_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Liveness      string    `json:"liveness"`
}

type AssignedTask struct {
	ID          string          `json:"id"`
	Owner       string          `json:"owner"`
	Plugin      string          `json:"plugin"`
	Action      string          `json:"action"`
	Args        json.RawMessage `json:"args"`
	Kwargs      json.RawMessage `json:"kwargs"`
	Kind        string          `json:"kind"`
	Interval    string          `json:"interval,omitempty"`
	WindowStart *time.Time      `json:"window_start,omitempty"`
	WindowEnd   *time.Time      `json:"window_end,omitempty"`
	Cycle       int             `json:"cycle"`
}

type AssignedTasksResponse struct {
	ClientID string         `json:"client_id"`
	Tasks    []AssignedTask `json:"tasks"`
}

// ClaimRequest may be empty when the X-Octopus-Client header is set.
type ClaimRequest struct {
	ClientID string `json:"client_id"`
}

type ClaimResponse struct {
	TaskID   string `json:"task_id"`
	ClientID string `json:"client_id"`
	Granted  bool   `json:"granted"`
}

// ReportRequest carries one execution result. Attempt is the attempt start
// time in unix milliseconds; reports with the same attempt update the same
// execution.
type ReportRequest struct {
	TaskID   string          `json:"task_id" binding:"required"`
	ClientID string          `json:"client_id" binding:"required"`
	Status   string          `json:"status" binding:"required"`
	Result   json.RawMessage `json:"result,omitempty"`
	Attempt  int64           `json:"attempt,omitempty"`
	// Cycle echoes AssignedTask.Cycle. Reports for an older cycle are kept
	// in the ledger but do not settle the current one.
	Cycle *int `json:"cycle,omitempty"`
}

type CreateTaskRequest struct {
	Owner       string          `json:"owner"`
	Plugin      string          `json:"plugin"`
	Action      string          `json:"action,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
	Kwargs      json.RawMessage `json:"kwargs,omitempty"`
	Kind        string          `json:"kind,omitempty"`
	Selector    string          `json:"selector,omitempty"`
	WindowStart *time.Time      `json:"window_start,omitempty"`
	WindowEnd   *time.Time      `json:"window_end,omitempty"`
	Interval    string          `json:"interval,omitempty"`
}

type AdminStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type PluginEntry struct {
	Name         string    `json:"name"`
	ContentHash  string    `json:"content_hash"`
	ByteSize     int64     `json:"byte_size"`
	LastModified time.Time `json:"last_modified"`
}

type PluginManifest struct {
	Plugins []PluginEntry `json:"plugins"`
}
