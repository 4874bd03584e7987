package registration

import (
	"github.com/smallbiznis/agentgate/internal/registration/repository"
	"github.com/smallbiznis/agentgate/internal/registration/service"
	"github.com/smallbiznis/agentgate/internal/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("registration.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(n *webhook.Notifier) service.Notifier { return n }),
	fx.Provide(service.New),
)
