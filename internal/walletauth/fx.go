package walletauth

import "go.uber.org/fx"

var Module = fx.Module("walletauth",
	fx.Provide(New),
)
