// Package server assembles the fiber application.
package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"svgscribe/internal/config"
	"svgscribe/internal/http/handlers"
	"svgscribe/internal/http/middleware"
	"svgscribe/internal/infra/browser"
	"svgscribe/internal/infra/gate"
	"svgscribe/internal/infra/logging"
	"svgscribe/internal/scribe"
)

// Deps are the collaborators shared by all requests. Missing ones are built
// from Config.
type Deps struct {
	Config   config.Config
	Driver   browser.Driver
	Gate     gate.Gate
	Renderer handlers.Renderer
}

// New creates the fiber app with middleware, routes and JSON errors.
func New(deps Deps) *fiber.App {
	cfg := deps.Config
	if deps.Driver == nil {
		d, err := browser.NewDriver(cfg.Browser)
		if err != nil {
			logging.Error("Invalid browser driver, using chromedp", "error", err)
			d = browser.NewChromeDriver(cfg.Browser)
		}
		deps.Driver = d
	}
	if deps.Gate == nil {
		deps.Gate = gate.NewLocal(cfg.Browser.MaxSessions)
	}
	if deps.Renderer == nil {
		deps.Renderer = scribe.New(deps.Driver, deps.Gate, cfg)
	}

	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app, cfg)

	svc := handlers.NewService(cfg, deps.Renderer, deps.Driver.Name(), deps.Gate)
	app.Post("/foo", svc.HandleRender)
	app.Post("/polylines", svc.HandlePolylines)

	ops := app.Group("/ops")
	ops.Get("/stats", svc.HandleStats)
	ops.Get("/monitor", monitor.New())

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		msg = e.Message
	}

	logging.Warn("Request failed", "path", c.Path(), "status", code, "error_message", msg)

	return c.Status(code).JSON(fiber.Map{"message": msg})
}
