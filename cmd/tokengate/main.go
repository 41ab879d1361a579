package main

import (
	"github.com/agentforge/tokengate/internal/clock"
	"github.com/agentforge/tokengate/internal/config"
	"github.com/agentforge/tokengate/internal/migration"
	"github.com/agentforge/tokengate/internal/observability"
	"github.com/agentforge/tokengate/internal/server"
	"github.com/agentforge/tokengate/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
