package task

import (
	"octopus-controlplane/services/liveness"

	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(
		func(t *liveness.Tracker) LivenessReader { return t },
		NewService,
	),
)
