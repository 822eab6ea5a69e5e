package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/maltedev/queenbooks-stock/cmd/stock-check/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	commands.ExecuteContext(ctx)
}
