package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"stackd/api/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cmsctl: %v\n", err)
		os.Exit(1)
	}
}
