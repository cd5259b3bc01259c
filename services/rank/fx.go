package rank

import (
	"go.uber.org/fx"
)

var Module = fx.Module("rank.service",
	fx.Provide(NewService),
)
