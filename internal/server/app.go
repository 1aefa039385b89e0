// Package server wires configuration, stores and services together and runs
// the HTTP API alongside the periodic cleanup of tokens and grants.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/medvault/internal/acl"
	"github.com/dmitrijs2005/medvault/internal/blobstore"
	"github.com/dmitrijs2005/medvault/internal/kvstore"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/metrics"
	"github.com/dmitrijs2005/medvault/internal/server/config"
	"github.com/dmitrijs2005/medvault/internal/server/httpapi"
	"github.com/dmitrijs2005/medvault/internal/timex"
	"github.com/dmitrijs2005/medvault/internal/tokens"
	"github.com/dmitrijs2005/medvault/internal/vault"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	clock   timex.Clock
	store   kvstore.Store
	metrics *metrics.Metrics
	tokens  *tokens.Manager
	acl     *acl.Service
	vault   *vault.Service
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New(c.LogFormat, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	store, err := kvstore.Open(ctx, c.StoreDriver, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}
	if c.StorePassphrase != "" {
		sealed, err := kvstore.NewSealed(ctx, store, c.StorePassphrase)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("store init error: %w", err)
		}
		store = sealed
	}

	blobs, err := blobstore.Open(ctx, c.BlobConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	clock := timex.SystemClock
	m := metrics.New()
	tm := tokens.NewManager(store, tokens.WithClock(clock), tokens.WithLogger(logger), tokens.WithMetrics(m))
	as := acl.NewService(store, clock, logger, m)
	vs := vault.NewService(blobs, tm, as, vault.Config{PublicURL: c.PublicURL, EmbedKeys: c.EmbedKeysInLinks}, clock, logger, m)

	return &App{
		config:  c,
		logger:  logger,
		clock:   clock,
		store:   store,
		metrics: m,
		tokens:  tm,
		acl:     as,
		vault:   vs,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewHTTPServer(app.config.HTTPAddr, app.logger, app.vault, app.tokens, app.acl,
		app.metrics, app.clock, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// cleanup sweeps expired tokens and ACL grants once.
func (app *App) cleanup(ctx context.Context) {
	now := app.clock()

	n, err := app.tokens.Cleanup(ctx, now)
	if err != nil {
		app.logger.Error(ctx, "token cleanup failed", "error", err)
	} else if n > 0 {
		app.logger.Info(ctx, "expired tokens removed", "count", n)
	}

	n, err = app.acl.CleanupExpiredAccess(ctx, now)
	if err != nil {
		app.logger.Error(ctx, "grant cleanup failed", "error", err)
	} else if n > 0 {
		app.logger.Info(ctx, "expired grants removed", "count", n)
	}
}

func (app *App) startCleanup(ctx context.Context) {
	interval := app.config.CleanupInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.cleanup(ctx)
		}
	}
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// closes the store.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "store", app.config.StoreDriver, "blobs", app.config.BlobDriver)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startCleanup(ctx)
	}()

	wg.Wait()

	if err := app.store.Close(); err != nil {
		app.logger.Error(context.Background(), "store close failed", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
