// Command migratestate applies SQL migrations and keeps their applied state in a
// remote store (MongoDB by default).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimburion/migratestate/pkg/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.Execute(ctx, cli.NewMigrateCommand(cli.CommandOptions{
		Name:        "migratestate",
		Description: "Run SQL migrations with remotely stored migration state",
		EnvPrefix:   "MIGRATE",
	}))
}
