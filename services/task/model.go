package task

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Kind string

const (
	KindAdhoc     Kind = "Adhoc"
	KindScheduled Kind = "Scheduled"
	KindRecurring Kind = "Recurring"
)

func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "adhoc":
		return KindAdhoc, true
	case "scheduled", "schedule":
		return KindScheduled, true
	case "recurring", "interval":
		return KindRecurring, true
	}
	return "", false
}

type Status string

const (
	StatusCreated   Status = "Created"
	StatusActive    Status = "Active"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func ParseStatus(s string) (Status, bool) {
	for _, st := range []Status{StatusCreated, StatusActive, StatusCompleted, StatusFailed} {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

// Owner values other than these two name one specific client.
const (
	OwnerAll    = "ALL"
	OwnerAnyone = "Anyone"
)

// ExecutorAll is the executor of an Active task owned by ALL.
const ExecutorAll = "ALL"

// NormalizeOwner canonicalizes the two policy owners and trims client ids.
func NormalizeOwner(owner string) string {
	owner = strings.TrimSpace(owner)
	switch {
	case strings.EqualFold(owner, OwnerAll):
		return OwnerAll
	case strings.EqualFold(owner, OwnerAnyone):
		return OwnerAnyone
	}
	return owner
}

type Task struct {
	ID                 string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Owner              string         `gorm:"column:owner;type:varchar(128);index;not null" json:"owner"`
	Plugin             string         `gorm:"column:plugin;type:varchar(128);not null" json:"plugin"`
	Action             string         `gorm:"column:action;type:varchar(64);not null;default:'run'" json:"action"`
	Args               datatypes.JSON `gorm:"column:args" json:"args"`
	Kwargs             datatypes.JSON `gorm:"column:kwargs" json:"kwargs"`
	Kind               Kind           `gorm:"column:kind;type:varchar(16);not null" json:"kind"`
	Selector           string         `gorm:"column:selector;type:text" json:"selector,omitempty"`
	WindowStart        *time.Time     `gorm:"column:window_start" json:"window_start,omitempty"`
	WindowEnd          *time.Time     `gorm:"column:window_end" json:"window_end,omitempty"`
	IntervalMs         int64          `gorm:"column:interval_ms;not null;default:0" json:"interval_ms,omitempty"`
	Status             Status         `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	Executor           string         `gorm:"column:executor;type:varchar(128);index" json:"executor"`
	StatusReason       string         `gorm:"column:status_reason;type:text" json:"status_reason,omitempty"`
	AssignmentAttempts int            `gorm:"column:assignment_attempts;not null;default:0" json:"assignment_attempts"`
	LastAttemptAt      *time.Time     `gorm:"column:last_attempt_at" json:"last_attempt_at,omitempty"`
	AssignedAt         *time.Time     `gorm:"column:assigned_at" json:"assigned_at,omitempty"`
	ClaimedAt          *time.Time     `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
	Cycle              int            `gorm:"column:cycle;not null;default:0" json:"cycle"`
	Reassignments      int            `gorm:"column:reassignments;not null;default:0" json:"reassignments"`
	CreatedAt          time.Time      `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

func (t *Task) Interval() time.Duration {
	return time.Duration(t.IntervalMs) * time.Millisecond
}

// WindowPassed reports whether now is beyond window_end.
func (t *Task) WindowPassed(now time.Time) bool {
	return t.WindowEnd != nil && now.After(*t.WindowEnd)
}

// BeforeWindow reports whether window_start is still in the future.
func (t *Task) BeforeWindow(now time.Time) bool {
	return t.WindowStart != nil && now.Before(*t.WindowStart)
}

// ActiveSince is the moment the active timeout is measured from. A recurring
// cycle only starts running when it is claimed, and it cannot be claimed
// before its interval has elapsed since assignment.
func (t *Task) ActiveSince() *time.Time {
	if t.Kind != KindRecurring {
		return t.AssignedAt
	}
	if t.ClaimedAt != nil {
		return t.ClaimedAt
	}
	if t.AssignedAt == nil {
		return nil
	}
	due := t.AssignedAt.Add(t.Interval())
	return &due
}

func (t *Task) OwnedByAll() bool    { return t.Owner == OwnerAll }
func (t *Task) OwnedByAnyone() bool { return t.Owner == OwnerAnyone }
func (t *Task) OwnedBySpecific() bool {
	return !t.OwnedByAll() && !t.OwnedByAnyone()
}

// Target is a client that was online when an ALL task was assigned. The task
// completes once every target still online has reported for the cycle.
type Target struct {
	TaskID   string    `gorm:"column:task_id;primaryKey;type:varchar(32)"`
	Cycle    int       `gorm:"column:cycle;primaryKey"`
	ClientID string    `gorm:"column:client_id;primaryKey;type:varchar(128)"`
	AddedAt  time.Time `gorm:"column:added_at"`
}

func (Target) TableName() string { return "task_targets" }

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&Task{}, &Target{}}
}
