package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/brightmont/academy/internal/migration"
	"github.com/brightmont/academy/internal/observability"
	"github.com/brightmont/academy/internal/scheduler"
	"github.com/brightmont/academy/internal/server"
	"github.com/brightmont/academy/pkg/db"
)

func main() {
	fx.New(
		observability.Module,
		db.Module,
		fx.Provide(newSnowflakeNode),

		migration.Module,
		server.Module,
		scheduler.Module,
	).Run()
}

// newSnowflakeNode builds the ID generator. Each replica needs a distinct
// node number so generated IDs never collide.
func newSnowflakeNode() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		nodeID = parsed
	}
	return snowflake.NewNode(nodeID)
}
