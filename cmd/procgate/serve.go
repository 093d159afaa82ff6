package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/spf13/cobra"

	"procgate/internal/admin"
	"procgate/internal/auth"
	"procgate/internal/engine"
	"procgate/internal/instrument"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Example: `  # Serve with ./procgate.yaml
  procgate serve

  # Override the port
  procgate serve --port 9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: server.port)")
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg)
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	app := newApp(rt)

	adminHandler := admin.NewHandler(rt.source, rt.registry, rt.authz, logger)
	admin.RegisterAdminRoutes(app, adminHandler, auth.RequireAdmin(cfg.Auth.JWTSecret))
	scheduler := admin.NewScheduler(adminHandler, cfg.ReloadInterval(), logger)
	scheduler.Start()
	defer scheduler.Stop()

	errc := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info("starting server", "addr", addr)
		errc <- app.Listen(addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

// newApp builds the fiber app with every route except the admin hooks.
func newApp(rt *runtime) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          engine.ErrorHandler(rt.formatter, rt.logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: rt.cfg.Debug}))
	app.Use(requestid.New())
	app.Use(instrument.Tracing(rt.instrumenter))
	if rt.metrics != nil {
		app.Use(rt.metrics.Middleware())
		app.Get(rt.cfg.Metrics.Path, rt.metrics.Handler())
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":         "ok",
			"config_version": rt.registry.Snapshot().Version,
		})
	})

	if rt.cfg.Auth.TokenExchange {
		auth.RegisterAuthRoutes(app, auth.NewTokenHandler(rt.registry, rt.cfg.Auth.JWTSecret, rt.cfg.Auth.TokenTTL(), rt.logger))
	}

	functions := engine.NewHandler(rt.gateway, rt.formatter, rt.logger)
	engine.RegisterFunctionRoutes(app, functions, auth.ClientMiddleware(rt.cfg.Auth.JWTSecret, rt.registry))
	return app
}
