package socialproof

import "go.uber.org/fx"

var Module = fx.Module("socialproof",
	fx.Provide(New),
)
