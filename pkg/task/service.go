package task

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// Enqueuer is the part of asynq.Client the coordinator uses to hand a sweep
// to whichever replica's worker picks it up first.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type clientEnqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &clientEnqueuer{client: client}
}

// Enqueue wraps errors with the task type. asynq.ErrDuplicateTask stays
// reachable through errors.Is for unique tasks.
func (e *clientEnqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	zap.L().Debug("[Asynq] task enqueued",
		zap.String("type", task.Type()),
		zap.String("id", info.ID),
		zap.String("queue", info.Queue),
	)
	return info, nil
}
