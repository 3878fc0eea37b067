package webhook

import (
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(NewService),
)

// Dispatch wires the asynq enqueuer; only processes that carry the
// asynq client include it.
var Dispatch = fx.Module("webhook.dispatch",
	fx.Provide(NewDispatcher),
)

// Worker registers the reconciliation handler on the asynq mux.
var Worker = fx.Module("webhook.worker",
	fx.Invoke(RegisterHandlers),
)
