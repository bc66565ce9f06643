package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"svgscribe/internal/config"
	"svgscribe/internal/http/server"
	"svgscribe/internal/infra/browser"
	"svgscribe/internal/infra/gate"
	"svgscribe/internal/infra/logging"
)

func main() {
	cfg := config.Load()
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	if err := run(cfg); err != nil {
		logging.Error("svgscribe exited with error", "error", err)
		os.Exit(1)
	}
}

// run wires the service and serves until a shutdown signal. Every resource
// it opens is released before it returns.
func run(cfg config.Config) error {
	var rdb *redis.Client
	if cfg.Browser.GateBackend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Host,
			DB:   cfg.Redis.GateDB,
		})
		defer rdb.Close()
	}

	driver, err := browser.NewDriver(cfg.Browser)
	if err != nil {
		return fmt.Errorf("create browser driver: %w", err)
	}
	defer driver.Close()

	g, err := gate.FromConfig(cfg, rdb)
	if err != nil {
		return fmt.Errorf("create admission gate: %w", err)
	}
	defer g.Close()

	logging.Info("Starting svgscribe",
		"addr", cfg.Server.Host+cfg.Server.Port,
		"driver", driver.Name(),
		"gate", cfg.Browser.GateBackend,
		"max_sessions", cfg.Browser.MaxSessions,
	)

	app := server.New(server.Deps{Config: cfg, Driver: driver, Gate: g})

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
	return nil
}

// startServer starts the Fiber app and blocks until a shutdown signal has
// been handled.
func startServer(app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}
