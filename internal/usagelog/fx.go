package usagelog

import (
	"github.com/agentforge/tokengate/internal/usagelog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usagelog.service",
	fx.Provide(service.NewService),
)
