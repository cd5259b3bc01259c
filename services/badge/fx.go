package badge

import (
	"time"

	"go.uber.org/fx"
)

const cacheTTL = 30 * time.Second

var Module = fx.Module("badge.service",
	fx.Provide(
		func() *BadgeCache { return NewBadgeCache(cacheTTL) },
		NewService,
	),
)
