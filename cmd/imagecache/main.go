package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRoot().Command()
	if cmd, err := rootCmd.ExecuteContextC(ctx); err != nil {
		if _, ok := err.(usageError); ok {
			cmd.Println("")
			cmd.Println(cmd.UsageString())
		}
		stop()
		os.Exit(1)
	}
}
