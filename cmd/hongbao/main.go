package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hongbao/internal/clock"
	"github.com/smallbiznis/hongbao/internal/config"
	"github.com/smallbiznis/hongbao/internal/logger"
	"github.com/smallbiznis/hongbao/internal/migration"
	"github.com/smallbiznis/hongbao/internal/server"
	"github.com/smallbiznis/hongbao/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface plus the domain modules it assembles
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
