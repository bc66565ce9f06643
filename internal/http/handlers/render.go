// Package handlers implements the HTTP endpoints on top of the render pipeline.
package handlers

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"svgscribe/internal/config"
	"svgscribe/internal/domain"
	"svgscribe/internal/infra/browser"
	"svgscribe/internal/infra/gate"
	"svgscribe/internal/infra/logging"
	"svgscribe/internal/scribe"
)

// Renderer produces one SVG document for a text.
type Renderer interface {
	Render(ctx context.Context, text string) (*domain.Result, error)
}

// Service holds what the handlers share: one renderer, hence one gate and
// one driver, for the whole process.
type Service struct {
	cfg      config.Config
	renderer Renderer
	driver   string
	gate     gate.Gate
}

func NewService(cfg config.Config, renderer Renderer, driverName string, g gate.Gate) *Service {
	return &Service{cfg: cfg, renderer: renderer, driver: driverName, gate: g}
}

type renderRequest struct {
	Text string `json:"text"`
}

type renderResponse struct {
	SVG string `json:"svg"`
}

// errGenerate is the message every failed render reports to the client.
const errGenerate = "Error generating SVG"

func requestID(c *fiber.Ctx) string {
	if id := c.Get(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}

// decodeJSON fills v from the request body. An empty body leaves v untouched.
func decodeJSON(c *fiber.Ctx, v any) error {
	body := c.Body()
	if len(body) == 0 {
		return nil
	}
	if err := c.App().Config().JSONDecoder(body, v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON body")
	}
	return nil
}

func (svc *Service) checkText(text string) error {
	if len(text) > svc.cfg.Limits.MaxTextBytes {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("Text exceeds %d bytes", svc.cfg.Limits.MaxTextBytes))
	}
	return nil
}

// render runs the pipeline detached from fiber's request context, which
// carries no cancellation; the pipeline applies its own deadline.
func (svc *Service) render(c *fiber.Ctx, text string) (*domain.Result, error) {
	ctx := scribe.WithRequestID(context.Background(), requestID(c))
	res, err := svc.renderer.Render(ctx, text)
	if err == nil {
		return res, nil
	}
	stage, _ := domain.StageOf(err)
	if stage == domain.StageAdmit {
		return nil, fiber.NewError(fiber.StatusServiceUnavailable, "Rendering capacity exhausted, retry later")
	}
	// The client sees the same failure either way; operators need to tell a
	// lost or timed-out browser apart from a page that misbehaved.
	if browser.IsSessionInterrupted(err) {
		logging.Warn("Browser session interrupted", "request_id", requestID(c), "stage", stage, "error", err)
	} else {
		logging.Warn("Page did not produce an SVG", "request_id", requestID(c), "stage", stage, "error", err)
	}
	return nil, fiber.NewError(fiber.StatusInternalServerError, errGenerate)
}

// HandleRender serves POST /foo.
func (svc *Service) HandleRender(c *fiber.Ctx) error {
	var req renderRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	if err := svc.checkText(req.Text); err != nil {
		return err
	}

	res, err := svc.render(c, req.Text)
	if err != nil {
		return err
	}
	logging.Info("SVG generated", "request_id", requestID(c), "viewbox", res.ViewBox, "bytes", len(res.SVG))
	return c.JSON(renderResponse{SVG: res.SVG})
}

// HandleStats serves GET /ops/stats.
func (svc *Service) HandleStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"driver":           svc.driver,
		"gate":             svc.gate.Stats(),
		"render_timeout":   svc.cfg.Render.Timeout.String(),
		"acquire_timeout":  svc.cfg.Browser.AcquireTimeout.String(),
		"interact_timeout": svc.cfg.Target.InteractTimeout.String(),
	})
}
