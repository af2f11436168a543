package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/paulschiretz/pgl-mirror/cmd"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// A .env file in the working directory may set PGL_MIRROR_* variables.
	// Variables already present in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		plog.Warn("Could not read .env file", "error", err)
	}

	// Set up a context that is canceled on an interrupt signal (Ctrl+C).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cmd.NewRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			plog.Info("Operation canceled by user.")
			return 1
		}
		plog.Error("Fatal error", "error", err)
		return 1
	}
	return 0
}
