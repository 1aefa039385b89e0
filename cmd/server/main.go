package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/medvault/internal/buildinfo"
	"github.com/dmitrijs2005/medvault/internal/server"
	"github.com/dmitrijs2005/medvault/internal/server/config"
)

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("medvault: %v", err)
	}

	// blocks until SIGINT/SIGTERM, then drains the HTTP server and closes the store
	app.Run(ctx)
}
