package handlers

import (
	"github.com/gofiber/fiber/v2"

	"svgscribe/internal/polyline"
)

type polylineRequest struct {
	Text    string  `json:"text"`
	SVG     string  `json:"svg"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Padding *bool   `json:"padding"`
}

type polylineResponse struct {
	SVG       string              `json:"svg"`
	Polylines []polyline.Polyline `json:"polylines"`
	Preview   string              `json:"preview"`
}

// HandlePolylines serves POST /polylines. Without an svg in the body the
// text is rendered first.
func (svc *Service) HandlePolylines(c *fiber.Ctx) error {
	var req polylineRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}

	if req.Width < 0 || req.Height < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "Width and height must be positive")
	}
	pc := svc.cfg.Polylines
	width, height, padding := pc.Width, pc.Height, pc.Padding
	if req.Width > 0 {
		width = req.Width
	}
	if req.Height > 0 {
		height = req.Height
	}
	if req.Padding != nil {
		padding = *req.Padding
	}

	doc := req.SVG
	if doc == "" {
		if err := svc.checkText(req.Text); err != nil {
			return err
		}
		res, err := svc.render(c, req.Text)
		if err != nil {
			return err
		}
		doc = res.SVG
	}

	lines, err := polyline.FromSVG(doc, pc.CurveSteps)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid SVG")
	}
	fitted := polyline.Fit(lines, width, height, padding)
	if fitted == nil {
		fitted = []polyline.Polyline{}
	}
	return c.JSON(polylineResponse{
		SVG:       doc,
		Polylines: fitted,
		Preview:   polyline.Preview(fitted, width, height),
	})
}
