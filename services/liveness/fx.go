package liveness

import "go.uber.org/fx"

var Module = fx.Module("liveness.tracker",
	fx.Provide(NewTracker),
)
