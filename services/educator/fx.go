package educator

import "go.uber.org/fx"

var Module = fx.Module("educator.service",
	fx.Provide(NewService),
)
