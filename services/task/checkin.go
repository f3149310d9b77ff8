package task

import (
	"context"
	"errors"
	"time"

	"octopus-controlplane/pkg/celengine"
	"octopus-controlplane/pkg/errutil"
	"octopus-controlplane/services/liveness"

	"go.uber.org/zap"
)

// ListAssignedTasks returns the Active tasks clientID should run now:
// tasks assigned to it directly plus ALL tasks it has not yet reported for
// in the current cycle. Recurring tasks appear only when the interval gate
// says they are due.
func (s *Service) ListAssignedTasks(ctx context.Context, clientID string) ([]*Task, error) {
	now := s.now()
	view, err := s.clientView(ctx, clientID, now)
	if err != nil {
		return nil, err
	}

	var rows []*Task
	err = s.db.WithContext(ctx).
		Where("status = ? AND executor IN ?", StatusActive, []string{clientID, ExecutorAll}).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]*Task, 0, len(rows))
	for _, t := range rows {
		visible, err := s.visibleTo(ctx, t, clientID, view, now)
		if err != nil {
			return nil, err
		}
		if !visible {
			continue
		}
		if t.Kind == KindRecurring {
			due, err := s.gate.ShouldFire(ctx, t.ID, clientID, t.Interval(), now)
			if err != nil {
				return nil, err
			}
			if !due {
				continue
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// Claim confirms clientID may start taskID now. For recurring tasks it
// consumes the interval gate, so only one claim per interval succeeds.
func (s *Service) Claim(ctx context.Context, taskID, clientID string) (*Task, error) {
	if clientID == "" {
		return nil, errutil.ValidationFailed("client_id is required", ErrValidation)
	}

	now := s.now()
	t, err := s.find(ctx, taskID)
	if err != nil {
		return nil, err
	}
	view, err := s.clientView(ctx, clientID, now)
	if err != nil {
		return nil, err
	}

	visible, err := s.visibleTo(ctx, t, clientID, view, now)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, errutil.Conflict("task is not runnable by this client", ErrNotAssigned)
	}

	if t.Kind == KindRecurring {
		ok, err := s.gate.Acquire(ctx, t.ID, clientID, t.Interval(), now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errutil.Conflict("interval has not elapsed", ErrNotDue)
		}
		if err := s.markClaimed(ctx, t, now); err != nil {
			return nil, err
		}
	}

	zap.L().Debug("[Task] claimed", zap.String("task_id", t.ID), zap.String("client_id", clientID))
	return t, nil
}

// markClaimed stamps the first claim of the current cycle. The active
// timeout of a recurring task runs from this point.
func (s *Service) markClaimed(ctx context.Context, t *Task, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND cycle = ? AND status = ? AND claimed_at IS NULL", t.ID, t.Cycle, StatusActive).
		Updates(map[string]any{"claimed_at": now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		t.ClaimedAt = &now
	}
	return nil
}

func (s *Service) clientView(ctx context.Context, clientID string, now time.Time) (*liveness.View, error) {
	view, err := s.liveness.Get(ctx, clientID, now)
	if errors.Is(err, liveness.ErrClientNotFound) {
		return nil, nil
	}
	return view, err
}

// visibleTo applies window expiry and reports whether t is runnable by
// clientID at now, ignoring the interval gate.
func (s *Service) visibleTo(ctx context.Context, t *Task, clientID string, view *liveness.View, now time.Time) (bool, error) {
	if err := s.touch(ctx, t, now); err != nil {
		return false, err
	}
	if t.Status != StatusActive || t.BeforeWindow(now) {
		return false, nil
	}

	switch t.Executor {
	case clientID:
		return true, nil
	case ExecutorAll:
	default:
		return false, nil
	}

	if view == nil || view.Liveness != liveness.Online || view.AdminStatus != liveness.AdminActive {
		return false, nil
	}
	match, err := celengine.Evaluate(t.Selector, view.Attributes())
	if err != nil {
		zap.L().Warn("[Task] selector evaluation failed",
			zap.String("task_id", t.ID), zap.String("client_id", clientID), zap.Error(err))
		return false, nil
	}
	if !match {
		return false, nil
	}

	reports, err := s.ledger.TerminalByClient(ctx, t.ID, t.Cycle)
	if err != nil {
		return false, err
	}
	_, reported := reports[clientID]
	return !reported, nil
}
