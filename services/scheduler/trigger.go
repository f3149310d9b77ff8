package scheduler

import (
	"context"
	"errors"
	"fmt"

	"octopus-controlplane/pkg/config"
	asynqtask "octopus-controlplane/pkg/task"
	"octopus-controlplane/pkg/taskname"
	"octopus-controlplane/services/liveness"
	"octopus-controlplane/services/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TriggerLocal = "local"
	TriggerAsynq = "asynq"
)

var Module = fx.Module("scheduler",
	fx.Provide(
		func(s *task.Service) TaskStore { return s },
		func(t *liveness.Tracker) Liveness { return t },
		New,
	),
	fx.Invoke(registerTrigger),
)

type TriggerParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Scheduler *Scheduler
	Config    *config.Config
	Mux       *asynq.ServeMux    `optional:"true"`
	Periodic  *asynq.Scheduler   `optional:"true"`
	Enqueuer  asynqtask.Enqueuer `optional:"true"`
}

// registerTrigger drives ticks from a local loop, or from a periodic asynq
// task when SCHEDULER.TRIGGER is asynq so only one replica sweeps per period.
func registerTrigger(p TriggerParams) error {
	s := p.Scheduler
	if p.Config.Scheduler.Trigger != TriggerAsynq {
		ctx, cancel := context.WithCancel(context.Background())
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go s.run(ctx)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
		return nil
	}

	if p.Mux == nil || p.Periodic == nil {
		return fmt.Errorf("scheduler trigger %q needs the asynq server and scheduler modules", TriggerAsynq)
	}

	p.Mux.HandleFunc(taskname.SchedulerSweep, s.handleSweep)
	entryID, err := p.Periodic.Register(
		fmt.Sprintf("@every %s", s.interval),
		asynq.NewTask(taskname.SchedulerSweep, nil),
		asynq.Queue(asynqtask.QueueCritical),
		asynq.Unique(s.interval),
	)
	if err != nil {
		return fmt.Errorf("register periodic sweep: %w", err)
	}
	s.enqueuer = p.Enqueuer

	zap.L().Info("[Scheduler] periodic sweep registered",
		zap.String("entry_id", entryID),
		zap.Duration("interval", s.interval),
	)
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started", zap.Duration("interval", s.interval))

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Tick(ctx, true); err != nil {
				zap.L().Error("[Scheduler] tick failed", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) handleSweep(ctx context.Context, _ *asynq.Task) error {
	report, err := s.Tick(ctx, true)
	if err != nil {
		return err
	}
	zap.L().Debug("[Scheduler] sweep handled", zap.String("status", string(report.Status)))
	return nil
}

// SweepNow requests an immediate sweep. With the asynq trigger the sweep is
// enqueued for whichever replica picks it up; otherwise it runs inline.
func (s *Scheduler) SweepNow(ctx context.Context) (Report, error) {
	if s.enqueuer == nil {
		return s.Tick(ctx, true)
	}

	_, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.SchedulerSweep, nil),
		asynq.Queue(asynqtask.QueueCritical),
		asynq.Unique(s.minInterval),
	)
	if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		return Report{}, err
	}
	return Report{Status: TickEnqueued}, nil
}
