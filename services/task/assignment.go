package task

import (
	"context"
	"fmt"
	"time"

	"octopus-controlplane/pkg/errutil"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordAssignment moves a Created task to Active with the given executor.
// Tasks owned by ALL take ExecutorAll and snapshot targets as the clients
// expected to report for the current cycle. A task that already left Created
// is rejected with ErrInvalidTransition, so concurrent callers get at most
// one winner.
func (s *Service) RecordAssignment(ctx context.Context, taskID, executor string, targets []string) (*Task, error) {
	now := s.now()

	var assigned *Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.repo.WithTrx(tx).FindOne(ctx, &Task{ID: taskID})
		if err != nil {
			return err
		}
		if t == nil {
			return errutil.NotFound("task not found", ErrTaskNotFound)
		}
		if t.Status != StatusCreated {
			return errutil.Conflict(fmt.Sprintf("task is %s", t.Status), ErrInvalidTransition)
		}

		switch {
		case executor == "":
			return errutil.BadRequest("executor is required", ErrInvalidTransition)
		case t.OwnedByAll() && executor != ExecutorAll:
			return errutil.Conflict("tasks owned by ALL are assigned to ALL", ErrInvalidTransition)
		case !t.OwnedByAll() && executor == ExecutorAll:
			return errutil.Conflict("only tasks owned by ALL can be assigned to ALL", ErrInvalidTransition)
		case t.OwnedBySpecific() && executor != t.Owner:
			return errutil.Conflict("task can only be assigned to its owner", ErrInvalidTransition)
		}

		res := tx.Model(&Task{}).
			Where("id = ? AND status = ?", taskID, StatusCreated).
			Updates(map[string]any{
				"status":        StatusActive,
				"executor":      executor,
				"assigned_at":   now,
				"status_reason": "",
				"updated_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("task already assigned", ErrInvalidTransition)
		}

		if t.OwnedByAll() && len(targets) > 0 {
			rows := lo.Map(lo.Uniq(targets), func(id string, _ int) *Target {
				return &Target{TaskID: taskID, Cycle: t.Cycle, ClientID: id, AddedAt: now}
			})
			err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
			if err != nil {
				return err
			}
		}

		t.Status = StatusActive
		t.Executor = executor
		t.AssignedAt = &now
		t.StatusReason = ""
		t.UpdatedAt = now
		assigned = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("[Task] assigned",
		zap.String("task_id", taskID),
		zap.String("executor", executor),
		zap.Int("cycle", assigned.Cycle),
		zap.Int("targets", len(targets)),
	)
	s.metrics.Assignments.WithLabelValues(ownerLabel(assigned)).Inc()
	s.metrics.TaskTransitions.WithLabelValues(string(StatusActive), "assigned").Inc()
	return assigned, nil
}

// RecordDeferral notes a failed assignment attempt. The task stays Created.
func (s *Service) RecordDeferral(ctx context.Context, taskID, reason string) error {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND status = ?", taskID, StatusCreated).
		Updates(map[string]any{
			"assignment_attempts": gorm.Expr("assignment_attempts + ?", 1),
			"last_attempt_at":     now,
			"status_reason":       reason,
			"updated_at":          now,
		})
	if res.Error != nil {
		return fmt.Errorf("defer task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("task is not awaiting assignment", ErrInvalidTransition)
	}

	zap.L().Debug("[Task] assignment deferred", zap.String("task_id", taskID), zap.String("reason", reason))
	s.metrics.AssignmentDeferred.WithLabelValues(deferLabel(reason)).Inc()
	return nil
}

// Pending returns every Created task, oldest first.
func (s *Service) Pending(ctx context.Context) ([]*Task, error) {
	return s.byStatus(ctx, StatusCreated)
}

// ActiveTasks returns every Active task, oldest first.
func (s *Service) ActiveTasks(ctx context.Context) ([]*Task, error) {
	return s.byStatus(ctx, StatusActive)
}

func (s *Service) byStatus(ctx context.Context, status Status) ([]*Task, error) {
	var rows []*Task
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// Targets returns the clients snapshotted for an ALL task cycle.
func (s *Service) Targets(ctx context.Context, taskID string, cycle int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&Target{}).
		Where("task_id = ? AND cycle = ?", taskID, cycle).
		Order("client_id ASC").
		Pluck("client_id", &ids).Error
	return ids, err
}

func ownerLabel(t *Task) string {
	switch {
	case t.OwnedByAll():
		return "all"
	case t.OwnedByAnyone():
		return "anyone"
	}
	return "specific"
}

func deferLabel(reason string) string {
	switch reason {
	case ReasonNoOnlineClient, ReasonWaitingWindow:
		return reason
	}
	return "owner_unavailable"
}

func elapsed(since *time.Time, now time.Time) time.Duration {
	if since == nil {
		return 0
	}
	return now.Sub(*since)
}
