package execution

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var statusAliases = map[string]Status{
	"pending":   StatusPending,
	"queued":    StatusPending,
	"waiting":   StatusPending,
	"running":   StatusRunning,
	"active":    StatusRunning,
	"started":   StatusRunning,
	"executing": StatusRunning,
	"completed": StatusCompleted,
	"complete":  StatusCompleted,
	"success":   StatusCompleted,
	"succeeded": StatusCompleted,
	"done":      StatusCompleted,
	"finished":  StatusCompleted,
	"ok":        StatusCompleted,
	"failed":    StatusFailed,
	"failure":   StatusFailed,
	"fail":      StatusFailed,
	"error":     StatusFailed,
	"errored":   StatusFailed,
	"cancelled": StatusFailed,
	"canceled":  StatusFailed,
	"timeout":   StatusFailed,
}

// NormalizeStatus maps a client supplied status onto the execution state set.
// Unrecognized values become StatusFailed and ok is false.
func NormalizeStatus(raw string) (status Status, ok bool) {
	s, found := statusAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !found {
		return StatusFailed, false
	}
	return s, true
}

// Execution is one attempt by one client to run one task.
type Execution struct {
	ExecutionID string         `gorm:"column:execution_id;primaryKey;type:varchar(255)" json:"execution_id"`
	TaskID      string         `gorm:"column:task_id;index:idx_executions_task_cycle;not null" json:"task_id"`
	ClientID    string         `gorm:"column:client;index;not null" json:"client"`
	Cycle       int            `gorm:"column:cycle;index:idx_executions_task_cycle;not null;default:0" json:"cycle"`
	Status      Status         `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	Result      datatypes.JSON `gorm:"column:result" json:"result,omitempty"`
	AttemptAt   time.Time      `gorm:"column:attempt_at;not null" json:"attempt_at"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Execution) TableName() string { return "executions" }

// ID returns the deterministic execution id <task>_<client>_<attempt unix ms>.
func ID(taskID, clientID string, attempt time.Time) string {
	return fmt.Sprintf("%s_%s_%d", taskID, clientID, attempt.UnixMilli())
}
