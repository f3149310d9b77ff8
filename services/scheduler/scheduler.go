// Package scheduler assigns Created tasks to online clients and settles
// Active tasks whose window or time budget ran out.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"octopus-controlplane/pkg/celengine"
	"octopus-controlplane/pkg/config"
	"octopus-controlplane/pkg/metrics"
	asynqtask "octopus-controlplane/pkg/task"
	"octopus-controlplane/services/liveness"
	"octopus-controlplane/services/task"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/raulk/clock"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type TaskStore interface {
	Pending(ctx context.Context) ([]*task.Task, error)
	ActiveTasks(ctx context.Context) ([]*task.Task, error)
	RecordAssignment(ctx context.Context, taskID, executor string, targets []string) (*task.Task, error)
	RecordDeferral(ctx context.Context, taskID, reason string) error
	ExpireWindow(ctx context.Context, t *task.Task, now time.Time) (bool, error)
	TimeoutActive(ctx context.Context, t *task.Task, now time.Time) (bool, error)
	ReconcileAll(ctx context.Context, taskID string, now time.Time) error
}

type Liveness interface {
	Online(ctx context.Context, now time.Time) ([]liveness.Client, error)
	Get(ctx context.Context, clientID string, now time.Time) (*liveness.View, error)
}

type TickStatus string

const (
	TickSuccess     TickStatus = "success"
	TickRateLimited TickStatus = "rate_limited"
	TickLocked      TickStatus = "locked"
	TickEnqueued    TickStatus = "enqueued"
)

// Report summarizes one tick.
type Report struct {
	Status        TickStatus `json:"status"`
	Pending       int        `json:"pending"`
	Assigned      int        `json:"assigned"`
	Deferred      int        `json:"deferred"`
	Expired       int        `json:"expired"`
	TimedOut      int        `json:"timed_out"`
	ActiveClients int        `json:"active_clients"`
}

const (
	DefaultMinTickInterval = 5 * time.Second
	DefaultSweepInterval   = 30 * time.Second
)

type Scheduler struct {
	tasks    TaskStore
	liveness Liveness
	clock    clock.Clock
	metrics  *metrics.Metrics

	minInterval time.Duration
	interval    time.Duration
	pick        func(n int) int
	enqueuer    asynqtask.Enqueuer

	mu      sync.Mutex
	lastRun time.Time
}

type Params struct {
	fx.In
	Tasks    TaskStore
	Liveness Liveness
	Config   *config.Config   `optional:"true"`
	Clock    clock.Clock      `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

func New(p Params) *Scheduler {
	s := &Scheduler{
		tasks:       p.Tasks,
		liveness:    p.Liveness,
		clock:       p.Clock,
		metrics:     p.Metrics,
		minInterval: DefaultMinTickInterval,
		interval:    DefaultSweepInterval,
		pick:        rand.IntN,
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNop()
	}
	if p.Config != nil {
		if p.Config.Scheduler.MinTickInterval > 0 {
			s.minInterval = p.Config.Scheduler.MinTickInterval
		}
		if p.Config.Scheduler.SweepInterval > 0 {
			s.interval = p.Config.Scheduler.SweepInterval
		}
	}
	return s
}

// Tick runs one assignment pass. Ticks never overlap: a tick that finds
// another in progress returns TickLocked. Unless force is set, a tick within
// the minimum interval of the previous one returns TickRateLimited.
func (s *Scheduler) Tick(ctx context.Context, force bool) (Report, error) {
	if !s.mu.TryLock() {
		return Report{Status: TickLocked}, nil
	}
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	if !force && !s.lastRun.IsZero() && now.Sub(s.lastRun) < s.minInterval {
		return Report{Status: TickRateLimited}, nil
	}
	s.lastRun = now

	timer := prometheus.NewTimer(s.metrics.SweepDuration)
	defer timer.ObserveDuration()

	online, err := s.liveness.Online(ctx, now)
	if err != nil {
		return Report{}, fmt.Errorf("list online clients: %w", err)
	}
	pending, err := s.tasks.Pending(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list pending tasks: %w", err)
	}

	report := Report{Status: TickSuccess, Pending: len(pending), ActiveClients: len(online)}
	var errs error

	for _, t := range pending {
		out, err := s.assign(ctx, t, online, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("task %s: %w", t.ID, err))
			continue
		}
		switch out {
		case outcomeAssigned:
			report.Assigned++
		case outcomeDeferred:
			report.Deferred++
		case outcomeExpired:
			report.Expired++
		}
	}

	active, err := s.tasks.ActiveTasks(ctx)
	if err != nil {
		return report, multierr.Append(errs, fmt.Errorf("list active tasks: %w", err))
	}
	for _, t := range active {
		expired, timedOut, err := s.settle(ctx, t, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("task %s: %w", t.ID, err))
		}
		if expired {
			report.Expired++
		}
		if timedOut {
			report.TimedOut++
		}
	}

	if report.Assigned+report.Expired+report.TimedOut > 0 {
		zap.L().Info("[Scheduler] tick",
			zap.Int("pending", report.Pending),
			zap.Int("assigned", report.Assigned),
			zap.Int("deferred", report.Deferred),
			zap.Int("expired", report.Expired),
			zap.Int("timed_out", report.TimedOut),
			zap.Int("online", report.ActiveClients),
		)
	}
	return report, errs
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeAssigned
	outcomeDeferred
	outcomeExpired
)

func (s *Scheduler) assign(ctx context.Context, t *task.Task, online []liveness.Client, now time.Time) (outcome, error) {
	if t.WindowPassed(now) {
		ok, err := s.tasks.ExpireWindow(ctx, t, now)
		if err != nil || !ok {
			return outcomeSkipped, err
		}
		return outcomeExpired, nil
	}
	if t.BeforeWindow(now) {
		return outcomeSkipped, nil
	}

	candidates := lo.Filter(online, func(c liveness.Client, _ int) bool {
		return matches(t, c)
	})

	var (
		executor string
		targets  []string
	)
	switch {
	case t.OwnedByAll():
		if len(candidates) == 0 {
			return s.postpone(ctx, t, task.ReasonNoOnlineClient)
		}
		executor = task.ExecutorAll
		targets = lo.Map(candidates, func(c liveness.Client, _ int) string { return c.ClientID })
	case t.OwnedByAnyone():
		if len(candidates) == 0 {
			return s.postpone(ctx, t, task.ReasonNoOnlineClient)
		}
		executor = candidates[s.pick(len(candidates))].ClientID
	default:
		if !lo.ContainsBy(candidates, func(c liveness.Client) bool { return c.ClientID == t.Owner }) {
			reason, err := s.ownerUnavailable(ctx, t, now)
			if err != nil {
				return outcomeSkipped, err
			}
			return s.postpone(ctx, t, reason)
		}
		executor = t.Owner
	}

	_, err := s.tasks.RecordAssignment(ctx, t.ID, executor, targets)
	if errors.Is(err, task.ErrInvalidTransition) {
		zap.L().Debug("[Scheduler] task moved before assignment", zap.String("task_id", t.ID))
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, err
	}
	return outcomeAssigned, nil
}

func (s *Scheduler) postpone(ctx context.Context, t *task.Task, reason string) (outcome, error) {
	err := s.tasks.RecordDeferral(ctx, t.ID, reason)
	if errors.Is(err, task.ErrInvalidTransition) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeSkipped, err
	}
	return outcomeDeferred, nil
}

// ownerUnavailable explains why a specific owner cannot take its task.
func (s *Scheduler) ownerUnavailable(ctx context.Context, t *task.Task, now time.Time) (string, error) {
	view, err := s.liveness.Get(ctx, t.Owner, now)
	if errors.Is(err, liveness.ErrClientNotFound) {
		return "owner unknown", nil
	}
	if err != nil {
		return "", err
	}
	switch {
	case view.AdminStatus != liveness.AdminActive:
		return "owner inactive", nil
	case view.Liveness != liveness.Online:
		return fmt.Sprintf("owner %s", view.Liveness), nil
	}
	return "owner does not match selector", nil
}

func (s *Scheduler) settle(ctx context.Context, t *task.Task, now time.Time) (expired, timedOut bool, err error) {
	if t.WindowPassed(now) {
		expired, err = s.tasks.ExpireWindow(ctx, t, now)
		return expired, false, err
	}

	timedOut, err = s.tasks.TimeoutActive(ctx, t, now)
	if err != nil || timedOut {
		return false, timedOut, err
	}

	if t.OwnedByAll() {
		err = s.tasks.ReconcileAll(ctx, t.ID, now)
	}
	return false, false, err
}

func matches(t *task.Task, c liveness.Client) bool {
	ok, err := celengine.Evaluate(t.Selector, c.Attributes())
	if err != nil {
		zap.L().Warn("[Scheduler] selector evaluation failed",
			zap.String("task_id", t.ID), zap.String("client_id", c.ClientID), zap.Error(err))
		return false
	}
	return ok
}
