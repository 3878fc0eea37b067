package submission

import (
	"go.uber.org/fx"
)

var Module = fx.Module("submission.service",
	fx.Provide(NewService),
)
