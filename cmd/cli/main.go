package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/dmitrijs2005/medvault/internal/client/cli"
	"github.com/dmitrijs2005/medvault/internal/client/config"
	"github.com/dmitrijs2005/medvault/internal/flagx"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.LoadConfig()
	app := cli.NewApp(cfg)

	args := flagx.StripArgs(os.Args[1:], append([]string{"-c", "-config"}, config.Flags...))

	if err := app.Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, cli.ErrUsage) {
			return 2
		}
		return 1
	}
	return 0
}
