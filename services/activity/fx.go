package activity

import "go.uber.org/fx"

var Module = fx.Module("activity.catalog",
	fx.Provide(NewCatalog),
)
