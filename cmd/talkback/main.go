// Command talkback records a spoken question and prints the answer from a
// talkbackd server.
package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/MrWong99/talkback/internal/cli"
	"github.com/MrWong99/talkback/internal/console"
)

func main() {
	if err := run(); err != nil {
		console.NewRenderer(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cli.NewRootCmd(&cli.Dependencies{}).ExecuteContext(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
