package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"octopus-controlplane/pkg/db/option"
	"octopus-controlplane/pkg/errutil"
	"octopus-controlplane/services/execution"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ReportInput struct {
	TaskID   string
	ClientID string
	Status   string
	Result   json.RawMessage
	// Attempt identifies the attempt; zero means now.
	Attempt time.Time
	// Cycle is the cycle the client ran. Nil means the task's current cycle.
	Cycle *int
}

// RecordResult stores an execution report and advances the task when the
// report settles it. Reports for unknown tasks are rejected and leave no
// execution behind.
func (s *Service) RecordResult(ctx context.Context, in ReportInput) (*execution.Execution, *Task, error) {
	if in.TaskID == "" || in.ClientID == "" {
		return nil, nil, errutil.ValidationFailed("task_id and client_id are required", ErrValidation)
	}

	unlock := s.locks.Lock(in.TaskID)
	defer unlock()

	now := s.now()
	status, ok := execution.NormalizeStatus(in.Status)

	result := execution.ParseResult(in.Result)
	if !ok {
		result.Diagnostic = fmt.Sprintf("unrecognized status %q", in.Status)
	} else if implied, has := result.Status(); has && status.Terminal() {
		status = implied
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}

	attempt := in.Attempt.UTC()
	if in.Attempt.IsZero() {
		attempt = now
	}

	// sqlite runs with one connection, so read liveness before the tx
	online, err := s.onlineSet(ctx, now)
	if err != nil {
		return nil, nil, err
	}

	var (
		recorded *execution.Execution
		current  *Task
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.repo.WithTrx(tx).FindOne(ctx, &Task{ID: in.TaskID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if t == nil {
			return errutil.NotFound("task not found", ErrTaskNotFound)
		}

		cycle := t.Cycle
		if in.Cycle != nil {
			cycle = *in.Cycle
		}
		recorded = &execution.Execution{
			TaskID:    t.ID,
			ClientID:  in.ClientID,
			Cycle:     cycle,
			Status:    status,
			Result:    datatypes.JSON(encoded),
			AttemptAt: attempt,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.ledger.WithTrx(tx).Record(ctx, recorded); err != nil {
			return err
		}

		current = t
		if !status.Terminal() {
			return nil
		}
		if cycle != t.Cycle {
			zap.L().Info("[Task] report for another cycle recorded only",
				zap.String("task_id", t.ID),
				zap.String("client_id", in.ClientID),
				zap.Int("reported_cycle", cycle),
				zap.Int("cycle", t.Cycle),
			)
			return nil
		}
		if t.Status != StatusActive {
			zap.L().Info("[Task] report for task that is not active",
				zap.String("task_id", t.ID),
				zap.String("client_id", in.ClientID),
				zap.String("task_status", string(t.Status)),
			)
			return nil
		}

		if t.OwnedByAll() {
			return s.evaluateAll(ctx, tx, t, online, now)
		}
		if t.Executor != in.ClientID {
			zap.L().Info("[Task] report from non-executor recorded only",
				zap.String("task_id", t.ID),
				zap.String("client_id", in.ClientID),
				zap.String("executor", t.Executor),
			)
			return nil
		}
		return s.finalize(tx, t, status, "reported", now)
	})
	if err != nil {
		return nil, nil, err
	}

	if !ok {
		zap.L().Warn("[Task] unrecognized execution status",
			zap.String("task_id", in.TaskID),
			zap.String("client_id", in.ClientID),
			zap.String("status", in.Status),
		)
	}
	s.metrics.Executions.WithLabelValues(string(status)).Inc()

	fresh, err := s.find(ctx, in.TaskID)
	if err != nil {
		return recorded, current, nil
	}
	return recorded, fresh, nil
}

func (s *Service) onlineSet(ctx context.Context, now time.Time) (map[string]bool, error) {
	clients, err := s.liveness.Online(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list online clients: %w", err)
	}
	set := make(map[string]bool, len(clients))
	for _, c := range clients {
		set[c.ClientID] = true
	}
	return set, nil
}

// evaluateAll settles an ALL task once every target that is still online
// has reported for the cycle. Targets that went offline are not waited for.
func (s *Service) evaluateAll(ctx context.Context, tx *gorm.DB, t *Task, online map[string]bool, now time.Time) error {
	reports, err := s.ledger.WithTrx(tx).TerminalByClient(ctx, t.ID, t.Cycle)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		return nil
	}

	var targets []string
	err = tx.Model(&Target{}).Where("task_id = ? AND cycle = ?", t.ID, t.Cycle).Pluck("client_id", &targets).Error
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		targets = lo.Keys(online)
	}

	pending := lo.Filter(targets, func(id string, _ int) bool {
		_, reported := reports[id]
		return online[id] && !reported
	})
	if len(pending) > 0 {
		zap.L().Debug("[Task] waiting for ALL reports",
			zap.String("task_id", t.ID),
			zap.Int("cycle", t.Cycle),
			zap.Strings("pending", pending),
		)
		return nil
	}

	return s.finalize(tx, t, s.aggregate(reports), "all_reported", now)
}

func (s *Service) aggregate(reports map[string]execution.Status) execution.Status {
	failed := lo.CountBy(lo.Values(reports), func(st execution.Status) bool {
		return st == execution.StatusFailed
	})
	switch {
	case failed == 0:
		return execution.StatusCompleted
	case s.opts.FailurePolicy == FailOnAll && failed < len(reports):
		return execution.StatusCompleted
	}
	return execution.StatusFailed
}

// finalize ends the current cycle of an Active task. Recurring tasks whose
// window is still open go back to Created for the next cycle.
func (s *Service) finalize(tx *gorm.DB, t *Task, outcome execution.Status, cause string, now time.Time) error {
	if t.Kind == KindRecurring && !t.WindowPassed(now) {
		return s.transition(tx, t, StatusCreated, cause, map[string]any{
			"executor":      "",
			"assigned_at":   nil,
			"claimed_at":    nil,
			"cycle":         t.Cycle + 1,
			"reassignments": 0,
			"status_reason": fmt.Sprintf("cycle %d %s", t.Cycle, outcome),
		})
	}

	status := StatusCompleted
	if outcome == execution.StatusFailed {
		status = StatusFailed
	}
	return s.transition(tx, t, status, cause, map[string]any{
		"status_reason": "",
	})
}

// transition moves an Active task to status. It fails with
// ErrInvalidTransition when the task is no longer Active.
func (s *Service) transition(tx *gorm.DB, t *Task, status Status, cause string, updates map[string]any) error {
	now := s.now()
	updates["status"] = status
	updates["updated_at"] = now

	res := tx.Model(&Task{}).Where("id = ? AND status = ?", t.ID, StatusActive).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("task is no longer active", ErrInvalidTransition)
	}

	zap.L().Info("[Task] transition",
		zap.String("task_id", t.ID),
		zap.String("from", string(t.Status)),
		zap.String("to", string(status)),
		zap.String("cause", cause),
		zap.Int("cycle", t.Cycle),
	)
	s.metrics.TaskTransitions.WithLabelValues(string(status), cause).Inc()
	return nil
}

// TimeoutActive handles a task that stayed Active longer than the configured
// maximum. Single-executor tasks go back to Created until the reassignment
// budget runs out. ALL tasks are settled on the reports they have.
func (s *Service) TimeoutActive(ctx context.Context, t *Task, now time.Time) (bool, error) {
	limit := s.opts.MaxActiveDuration
	if limit <= 0 || t.Status != StatusActive || elapsed(t.ActiveSince(), now) < limit {
		return false, nil
	}

	unlock := s.locks.Lock(t.ID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.WithTrx(tx).FindOne(ctx, &Task{ID: t.ID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if current == nil || current.Status != StatusActive {
			return errutil.Conflict("task is no longer active", ErrInvalidTransition)
		}

		if !current.OwnedByAll() {
			if current.Reassignments < s.opts.MaxReassignments {
				return s.transition(tx, current, StatusCreated, "timeout", map[string]any{
					"executor":      "",
					"assigned_at":   nil,
					"claimed_at":    nil,
					"reassignments": current.Reassignments + 1,
					"status_reason": ReasonReassigning,
				})
			}
			return s.transition(tx, current, StatusFailed, "timeout", map[string]any{
				"status_reason": ReasonActiveTimeout,
			})
		}

		reports, err := s.ledger.WithTrx(tx).TerminalByClient(ctx, current.ID, current.Cycle)
		if err != nil {
			return err
		}
		if len(reports) > 0 {
			return s.finalize(tx, current, s.aggregate(reports), "timeout", now)
		}
		if current.Kind == KindRecurring && !current.WindowPassed(now) {
			return s.transition(tx, current, StatusCreated, "timeout", map[string]any{
				"executor":      "",
				"assigned_at":   nil,
				"claimed_at":    nil,
				"status_reason": ReasonActiveTimeout,
			})
		}
		return s.transition(tx, current, StatusFailed, "timeout", map[string]any{
			"status_reason": ReasonActiveTimeout,
		})
	})
	if err != nil {
		if isTransitionConflict(err) {
			return false, nil
		}
		return false, err
	}

	zap.L().Warn("[Task] active timeout",
		zap.String("task_id", t.ID),
		zap.String("executor", t.Executor),
		zap.Duration("active_for", elapsed(t.ActiveSince(), now)),
	)
	return true, nil
}

// ReconcileAll re-evaluates an Active ALL task so it can settle when its
// remaining targets went offline without reporting.
func (s *Service) ReconcileAll(ctx context.Context, taskID string, now time.Time) error {
	unlock := s.locks.Lock(taskID)
	defer unlock()

	online, err := s.onlineSet(ctx, now)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.repo.WithTrx(tx).FindOne(ctx, &Task{ID: taskID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if t == nil || t.Status != StatusActive || !t.OwnedByAll() {
			return nil
		}
		return s.evaluateAll(ctx, tx, t, online, now)
	})
	if isTransitionConflict(err) {
		return nil
	}
	return err
}
