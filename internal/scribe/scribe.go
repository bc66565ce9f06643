// Package scribe turns text into a standalone handwriting SVG by driving the
// upstream page through one dedicated browser session per call.
package scribe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"svgscribe/internal/config"
	"svgscribe/internal/domain"
	"svgscribe/internal/infra/browser"
	"svgscribe/internal/infra/gate"
	"svgscribe/internal/infra/logging"
	"svgscribe/internal/svgdoc"
)

type ctxKey struct{}

// WithRequestID tags ctx so pipeline log lines carry the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type Scribe struct {
	driver         browser.Driver
	gate           gate.Gate
	target         config.TargetConfig
	render         config.RenderConfig
	acquireTimeout time.Duration
}

func New(driver browser.Driver, g gate.Gate, cfg config.Config) *Scribe {
	return &Scribe{
		driver:         driver,
		gate:           g,
		target:         cfg.Target,
		render:         cfg.Render,
		acquireTimeout: cfg.Browser.AcquireTimeout,
	}
}

// Render runs admit, bootstrap, configure, render and extract in order. Once
// a session is open it is closed exactly once on every exit path, panics
// included, and the gate slot is released after it. Every failure is a
// *domain.StageError.
func (s *Scribe) Render(ctx context.Context, text string) (res *domain.Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.render.Timeout)
	defer cancel()

	stage := domain.StageAdmit
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = s.fail(ctx, stage, fmt.Errorf("panic: %v", r))
		}
	}()

	admitCtx, cancelAdmit := ctx, context.CancelFunc(func() {})
	if s.acquireTimeout > 0 {
		admitCtx, cancelAdmit = context.WithTimeout(ctx, s.acquireTimeout)
	}
	err = s.gate.Acquire(admitCtx)
	cancelAdmit()
	if err != nil {
		return nil, s.fail(ctx, stage, err)
	}
	defer s.gate.Release()

	stage = domain.StageBootstrap
	sess, err := s.driver.Open(ctx)
	if err != nil {
		return nil, s.fail(ctx, stage, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logging.Warn("session teardown failed",
				"stage", domain.StageTeardown, "request_id", requestID(ctx), "error", cerr)
		}
	}()

	if err := sess.Navigate(ctx, s.target.URL); err != nil {
		return nil, s.fail(ctx, stage, err)
	}

	stage = domain.StageConfigure
	if err := s.configure(ctx, sess); err != nil {
		return nil, s.fail(ctx, stage, err)
	}

	stage = domain.StageRender
	if err := s.draw(ctx, sess, text); err != nil {
		return nil, s.fail(ctx, stage, err)
	}

	stage = domain.StageExtract
	res, err = s.extract(ctx, sess)
	if err != nil {
		return nil, s.fail(ctx, stage, err)
	}
	return res, nil
}

func (s *Scribe) fail(ctx context.Context, stage domain.Stage, err error) error {
	logging.Error("render pipeline failed",
		"stage", stage, "request_id", requestID(ctx), "driver", s.driver.Name(), "error", err)
	return &domain.StageError{Stage: stage, Err: err}
}

func (s *Scribe) configure(ctx context.Context, sess browser.Session) error {
	for _, sl := range s.target.Sliders {
		if err := sess.WaitInteractable(ctx, sl.ID, s.target.InteractTimeout); err != nil {
			return fmt.Errorf("slider %s: %w", sl.Name, err)
		}
		if err := sess.DragBy(ctx, sl.ID, sl.OffsetX, sl.OffsetY); err != nil {
			return fmt.Errorf("slider %s: %w", sl.Name, err)
		}
	}
	if err := sess.WaitInteractable(ctx, s.target.StyleSelectID, s.target.InteractTimeout); err != nil {
		return err
	}
	return sess.SelectByText(ctx, s.target.StyleSelectID, s.target.StyleOption)
}

func (s *Scribe) draw(ctx context.Context, sess browser.Session, text string) error {
	if err := sess.WaitInteractable(ctx, s.target.TextInputID, s.target.InteractTimeout); err != nil {
		return err
	}
	if err := sess.ReplaceText(ctx, s.target.TextInputID, text); err != nil {
		return err
	}
	if err := sess.WaitInteractable(ctx, s.target.DrawButtonID, s.target.InteractTimeout); err != nil {
		return err
	}
	if err := sess.Click(ctx, s.target.DrawButtonID); err != nil {
		return err
	}
	if err := s.waitStable(ctx, sess, text == ""); err != nil {
		return err
	}
	return sleep(ctx, s.render.SettleDelay)
}

// canvasProgress is one sample of the drawing: its descendant element count
// and its markup length.
type canvasProgress struct {
	Elements int
	Size     int
}

func (s *Scribe) sampleCanvas(ctx context.Context, sess browser.Session) (canvasProgress, error) {
	raw, err := sess.Evaluate(ctx, browser.CanvasProgressScript(s.target.CanvasID))
	if err != nil {
		return canvasProgress{}, err
	}
	var sample *[2]int
	if err := json.Unmarshal(raw, &sample); err != nil {
		return canvasProgress{}, fmt.Errorf("canvas progress %q: %w", raw, err)
	}
	if sample == nil {
		return canvasProgress{}, fmt.Errorf("canvas #%s: %w", s.target.CanvasID, domain.ErrElementNotFound)
	}
	return canvasProgress{Elements: sample[0], Size: sample[1]}, nil
}

// waitStable polls the canvas until it has content (or allowEmpty) and
// neither its element count nor its markup length changed for StableSamples
// consecutive polls. Strokes that grow in place change the length only.
func (s *Scribe) waitStable(ctx context.Context, sess browser.Session, allowEmpty bool) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.target.InteractTimeout)
	defer cancel()

	ticker := time.NewTicker(s.render.PollInterval)
	defer ticker.Stop()

	var last canvasProgress
	stable := 0
	for {
		cur, err := s.sampleCanvas(waitCtx, sess)
		if err != nil {
			if ctx.Err() == nil && waitCtx.Err() != nil {
				return domain.ErrRenderIncomplete
			}
			return err
		}

		switch {
		case cur.Elements == 0 && !allowEmpty:
			stable = 0
		case stable > 0 && cur == last:
			stable++
		default:
			stable = 1
		}
		last = cur
		if stable >= s.render.StableSamples {
			return nil
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.ErrRenderIncomplete
		}
	}
}

func (s *Scribe) extract(ctx context.Context, sess browser.Session) (*domain.Result, error) {
	if err := sess.WaitInteractable(ctx, s.target.SaveButtonID, s.target.InteractTimeout); err != nil {
		return nil, err
	}

	var bb *domain.BoundingBox
	raw, err := sess.Evaluate(ctx, browser.BoundingBoxScript(s.target.CanvasID))
	if err != nil {
		logging.Warn("bounding box unavailable, using default viewBox",
			"request_id", requestID(ctx), "error", err)
	} else if b, ok := svgdoc.ParseBoundingBox(raw); ok {
		bb = b
	}
	viewBox := svgdoc.ViewBox(bb, s.render.ViewBoxMargin, s.render.DefaultViewBox)

	markup, err := sess.OuterHTML(ctx, s.target.CanvasID)
	if err != nil {
		return nil, err
	}
	doc, err := svgdoc.Patch(markup, viewBox)
	if err != nil {
		return nil, err
	}
	return &domain.Result{SVG: doc, ViewBox: viewBox, BoundingBox: bb}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
