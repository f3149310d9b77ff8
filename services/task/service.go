package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"octopus-controlplane/pkg/celengine"
	"octopus-controlplane/pkg/config"
	"octopus-controlplane/pkg/db/option"
	"octopus-controlplane/pkg/db/pagination"
	"octopus-controlplane/pkg/errutil"
	"octopus-controlplane/pkg/keylock"
	"octopus-controlplane/pkg/metrics"
	"octopus-controlplane/pkg/repository"
	"octopus-controlplane/services/execution"
	"octopus-controlplane/services/gate"
	"octopus-controlplane/services/liveness"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/raulk/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LivenessReader is the part of the liveness tracker the task store needs.
type LivenessReader interface {
	Online(ctx context.Context, now time.Time) ([]liveness.Client, error)
	Get(ctx context.Context, clientID string, now time.Time) (*liveness.View, error)
}

type FailurePolicy string

const (
	// FailOnAny fails an ALL task when any client reported failure.
	FailOnAny FailurePolicy = "any"
	// FailOnAll fails an ALL task only when every client reported failure.
	FailOnAll FailurePolicy = "all"
)

type Options struct {
	FailurePolicy     FailurePolicy
	MaxActiveDuration time.Duration
	MaxReassignments  int
}

func optionsFromConfig(cfg *config.Config) Options {
	opts := Options{FailurePolicy: FailOnAny, MaxActiveDuration: time.Hour, MaxReassignments: 3}
	if cfg == nil {
		return opts
	}
	if FailurePolicy(cfg.Scheduler.AllFailurePolicy) == FailOnAll {
		opts.FailurePolicy = FailOnAll
	}
	opts.MaxActiveDuration = cfg.Scheduler.MaxActiveDuration
	opts.MaxReassignments = cfg.Scheduler.MaxReassignments
	return opts
}

type Service struct {
	db       *gorm.DB
	repo     repository.Repository[Task]
	targets  repository.Repository[Target]
	ledger   *execution.Ledger
	liveness LivenessReader
	gate     gate.Gate
	node     *snowflake.Node
	clock    clock.Clock
	locks    *keylock.KeyLock
	metrics  *metrics.Metrics
	opts     Options
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Ledger   *execution.Ledger
	Liveness LivenessReader
	Gate     gate.Gate
	Node     *snowflake.Node
	Config   *config.Config   `optional:"true"`
	Clock    clock.Clock      `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	m := p.Metrics
	if m == nil {
		m = metrics.NewNop()
	}

	return &Service{
		db:       p.DB,
		repo:     repository.ProvideStore[Task](p.DB),
		targets:  repository.ProvideStore[Target](p.DB),
		ledger:   p.Ledger,
		liveness: p.Liveness,
		gate:     p.Gate,
		node:     p.Node,
		clock:    clk,
		locks:    keylock.New(),
		metrics:  m,
		opts:     optionsFromConfig(p.Config),
	}
}

func (s *Service) Options() Options { return s.opts }

func (s *Service) now() time.Time { return s.clock.Now().UTC() }

type CreateInput struct {
	Owner       string
	Plugin      string
	Action      string
	Args        json.RawMessage
	Kwargs      json.RawMessage
	Kind        Kind
	Selector    string
	WindowStart *time.Time
	WindowEnd   *time.Time
	Interval    time.Duration
}

func (in *CreateInput) validate() []errutil.Detail {
	var details []errutil.Detail
	add := func(field, msg string) {
		details = append(details, errutil.Detail{Field: field, Message: msg})
	}

	if in.Owner == "" {
		add("owner", "owner is required")
	}
	if in.Plugin == "" {
		add("plugin", "plugin is required")
	} else if !slug.IsSlug(in.Plugin) {
		add("plugin", "plugin must be a lowercase slug")
	}

	switch in.Kind {
	case KindAdhoc, KindScheduled, KindRecurring:
	default:
		add("kind", fmt.Sprintf("unknown kind %q", in.Kind))
	}

	if in.Kind == KindRecurring && in.Interval <= 0 {
		add("interval", "recurring tasks require a positive interval")
	}
	if in.Kind != KindRecurring && in.Interval != 0 {
		add("interval", "interval is only allowed on recurring tasks")
	}
	if in.Kind == KindScheduled && in.WindowStart == nil {
		add("window_start", "scheduled tasks require window_start")
	}
	if in.WindowStart != nil && in.WindowEnd != nil && in.WindowEnd.Before(*in.WindowStart) {
		add("window_end", "window_end must not be before window_start")
	}

	if !isJSONKind(in.Args, '[') {
		add("args", "args must be a JSON array")
	}
	if !isJSONKind(in.Kwargs, '{') {
		add("kwargs", "kwargs must be a JSON object")
	}

	if in.Selector != "" {
		if err := celengine.ValidateExpression(in.Selector); err != nil {
			add("selector", err.Error())
		}
	}
	return details
}

func isJSONKind(raw json.RawMessage, open byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == open && json.Valid(trimmed)
}

// CreateTask validates and stores a new task in Created. A task whose window
// already closed is stored directly as Failed.
func (s *Service) CreateTask(ctx context.Context, in CreateInput) (*Task, error) {
	in.Owner = NormalizeOwner(in.Owner)
	if in.Action == "" {
		in.Action = "run"
	}
	if in.Kind == "" {
		in.Kind = KindAdhoc
	}
	if len(bytes.TrimSpace(in.Args)) == 0 {
		in.Args = json.RawMessage("[]")
	}
	if len(bytes.TrimSpace(in.Kwargs)) == 0 {
		in.Kwargs = json.RawMessage("{}")
	}

	if details := in.validate(); len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid task", ErrValidation, errutil.WithDetails(details...))
	}

	now := s.now()
	t := &Task{
		ID:          s.node.Generate().String(),
		Owner:       in.Owner,
		Plugin:      in.Plugin,
		Action:      in.Action,
		Args:        datatypes.JSON(bytes.TrimSpace(in.Args)),
		Kwargs:      datatypes.JSON(bytes.TrimSpace(in.Kwargs)),
		Kind:        in.Kind,
		Selector:    in.Selector,
		WindowStart: utcPtr(in.WindowStart),
		WindowEnd:   utcPtr(in.WindowEnd),
		IntervalMs:  in.Interval.Milliseconds(),
		Status:      StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.WindowPassed(now) {
		t.Status = StatusFailed
		t.StatusReason = ReasonWindowExpired
	}

	if err := s.repo.Create(ctx, t); err != nil {
		zap.L().Error("[Task] failed to create task", zap.Error(err))
		return nil, err
	}

	zap.L().Info("[Task] created",
		zap.String("task_id", t.ID),
		zap.String("owner", t.Owner),
		zap.String("plugin", t.Plugin),
		zap.String("kind", string(t.Kind)),
		zap.String("status", string(t.Status)),
	)
	if t.Status == StatusFailed {
		s.metrics.TaskTransitions.WithLabelValues(string(StatusFailed), "window_expired").Inc()
	}
	return t, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *Service) find(ctx context.Context, taskID string) (*Task, error) {
	t, err := s.repo.FindOne(ctx, &Task{ID: taskID})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errutil.NotFound("task not found", ErrTaskNotFound)
	}
	return t, nil
}

// Get returns the task after applying window expiry.
func (s *Service) Get(ctx context.Context, taskID string) (*Task, error) {
	t, err := s.find(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.touch(ctx, t, s.now()); err != nil {
		return nil, err
	}
	return t, nil
}

type Filter struct {
	Status   Status
	Owner    string
	Executor string
	Kind     Kind
}

func (s *Service) List(ctx context.Context, f Filter, page pagination.Pagination) ([]*Task, *pagination.PageInfo, error) {
	page = page.Normalize()
	query := &Task{Status: f.Status, Owner: NormalizeOwner(f.Owner), Executor: f.Executor, Kind: f.Kind}

	rows, err := s.repo.Find(ctx, query, option.ApplyPagination(page))
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	for _, t := range rows {
		if err := s.touch(ctx, t, now); err != nil {
			return nil, nil, err
		}
	}

	return pagination.BuildCursorPageInfo(rows, page.Limit, func(t *Task) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	})
}

// Executions returns the execution history of one task.
func (s *Service) Executions(ctx context.Context, taskID string, page pagination.Pagination) ([]*execution.Execution, *pagination.PageInfo, error) {
	if _, err := s.find(ctx, taskID); err != nil {
		return nil, nil, err
	}
	return s.ledger.List(ctx, execution.Filter{TaskID: taskID}, page)
}

// touch applies lazy window expiry to t and refreshes it in place.
func (s *Service) touch(ctx context.Context, t *Task, now time.Time) error {
	if t.Status.Terminal() || !t.WindowPassed(now) {
		return nil
	}
	if _, err := s.ExpireWindow(ctx, t, now); err != nil {
		return err
	}
	fresh, err := s.find(ctx, t.ID)
	if err != nil {
		return err
	}
	*t = *fresh
	return nil
}

// Reasons recorded in status_reason.
const (
	ReasonWindowExpired  = "window expired"
	ReasonWindowClosed   = "window closed"
	ReasonActiveTimeout  = "active timeout"
	ReasonReassigning    = "active timeout, reassigning"
	ReasonWaitingWindow  = "waiting for window start"
	ReasonNoOnlineClient = "no online client"
)

// ExpireWindow terminates a non-terminal task whose window closed. Recurring
// tasks that finished at least one cycle end Completed; everything else ends
// Failed. Returns false when another actor already moved the task.
func (s *Service) ExpireWindow(ctx context.Context, t *Task, now time.Time) (bool, error) {
	if !t.WindowPassed(now) {
		return false, nil
	}

	status, reason := StatusFailed, ReasonWindowExpired
	if t.Kind == KindRecurring && t.Cycle > 0 {
		status, reason = StatusCompleted, ReasonWindowClosed
	}

	res := s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND status IN ?", t.ID, []Status{StatusCreated, StatusActive}).
		Updates(map[string]any{
			"status":        status,
			"status_reason": reason,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("expire task %s: %w", t.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	zap.L().Info("[Task] window closed",
		zap.String("task_id", t.ID),
		zap.String("status", string(status)),
		zap.Timep("window_end", t.WindowEnd),
	)
	s.metrics.TaskTransitions.WithLabelValues(string(status), "window_expired").Inc()
	return true, nil
}
