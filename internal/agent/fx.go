package agent

import "go.uber.org/fx"

var Module = fx.Module("agent.invoker",
	fx.Provide(NewInvoker),
)
