package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agentgate/internal/config"
	"github.com/smallbiznis/agentgate/internal/observability"
	"github.com/smallbiznis/agentgate/internal/server"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		server.Module,
	)
	app.Run()
}

// RegisterSnowflake provides the node that mints webhook event ids. Each
// instance needs its own SNOWFLAKE_NODE_ID.
func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNodeID)
}
