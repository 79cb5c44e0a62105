package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	rootCmd := buildRootCommand()
	rootCmd.AddCommand(buildRepairCommand())
	rootCmd.AddCommand(buildBatchCommand())
	rootCmd.AddCommand(buildVerifyCommand())
	rootCmd.AddCommand(buildInspectCommand())
	rootCmd.AddCommand(buildVersionCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeLogging()
	if err != nil {
		os.Exit(1)
	}
}
