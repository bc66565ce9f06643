package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"svgscribe/internal/config"
	"svgscribe/internal/domain"
)

// PlaywrightDriver launches a fresh Chromium per session through the
// playwright runtime, which is started on first use and shared.
type PlaywrightDriver struct {
	cfg config.BrowserConfig

	mu sync.Mutex
	pw *playwright.Playwright
}

func NewPlaywrightDriver(cfg config.BrowserConfig) *PlaywrightDriver {
	return &PlaywrightDriver{cfg: cfg}
}

func (d *PlaywrightDriver) Name() string { return "playwright" }

func (d *PlaywrightDriver) runtime() (*playwright.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw != nil {
		return d.pw, nil
	}

	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if d.cfg.ChromePath != "" {
		opts.SkipInstallBrowsers = true
	}
	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	d.pw = pw
	return pw, nil
}

func (d *PlaywrightDriver) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := d.runtime()
	if err != nil {
		return nil, err
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.cfg.Headless),
		Args:     []string{"--start-maximized", "--disable-gpu", "--disable-dev-shm-usage"},
		Timeout:  playwright.Float(millis(ctx, 0)),
	}
	if d.cfg.ChromePath != "" {
		launch.ExecutablePath = playwright.String(d.cfg.ChromePath)
	}
	if d.cfg.NoSandbox {
		launch.ChromiumSandbox = playwright.Bool(false)
	}
	b, err := pw.Chromium.Launch(launch)
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	page, err := b.NewPage(playwright.BrowserNewPageOptions{
		Viewport: &playwright.Size{Width: d.cfg.WindowWidth, Height: d.cfg.WindowHeight},
	})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &playwrightSession{browser: b, page: page}, nil
}

// Close stops the shared playwright runtime.
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	return err
}

// millis converts the time left on ctx into a playwright timeout. Without a
// deadline it returns def; playwright reads 0 as "no timeout".
func millis(ctx context.Context, def time.Duration) float64 {
	if dl, ok := ctx.Deadline(); ok {
		left := time.Until(dl)
		if left < time.Millisecond {
			left = time.Millisecond
		}
		return float64(left.Milliseconds())
	}
	return float64(def.Milliseconds())
}

type playwrightSession struct {
	browser playwright.Browser
	page    playwright.Page

	closeOnce sync.Once
}

func (s *playwrightSession) locator(id string) playwright.Locator {
	return s.page.Locator(byID(id))
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(millis(ctx, 0)),
	})
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

func (s *playwrightSession) WaitInteractable(ctx context.Context, id string, timeout time.Duration) error {
	waitCtx, cancel := withDeadline(ctx, timeout)
	defer cancel()
	_, err := s.page.WaitForFunction(interactableScript(id), nil, playwright.PageWaitForFunctionOptions{
		Timeout: playwright.Float(millis(waitCtx, timeout)),
	})
	if err != nil {
		return fmt.Errorf("wait for #%s: %w", id, err)
	}
	return nil
}

func (s *playwrightSession) DragBy(ctx context.Context, id string, dx, dy float64) error {
	loc := s.locator(id)
	opts := playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: playwright.Float(millis(ctx, 0))}
	if err := loc.ScrollIntoViewIfNeeded(opts); err != nil {
		return fmt.Errorf("scroll #%s: %w", id, err)
	}
	box, err := loc.BoundingBox(playwright.LocatorBoundingBoxOptions{Timeout: playwright.Float(millis(ctx, 0))})
	if err != nil {
		return fmt.Errorf("locate #%s: %w", id, err)
	}
	if box == nil {
		return fmt.Errorf("drag #%s: %w", id, domain.ErrElementNotFound)
	}

	x, y := box.X+box.Width/2, box.Y+box.Height/2
	mouse := s.page.Mouse()
	return guarded(ctx, s.abort, func() error {
		if err := mouse.Move(x, y); err != nil {
			return err
		}
		if err := mouse.Down(); err != nil {
			return err
		}
		if err := mouse.Move(x+dx, y+dy, playwright.MouseMoveOptions{Steps: playwright.Int(5)}); err != nil {
			return err
		}
		return mouse.Up()
	})
}

func (s *playwrightSession) SelectByText(ctx context.Context, id, label string) error {
	var v any
	err := guarded(ctx, s.abort, func() (err error) {
		v, err = s.page.Evaluate(selectByTextScript(id, label))
		return err
	})
	if err != nil {
		return fmt.Errorf("select %q in #%s: %w", label, id, err)
	}
	if ok, _ := v.(bool); !ok {
		return fmt.Errorf("select %q in #%s: %w", label, id, domain.ErrOptionNotFound)
	}
	return nil
}

func (s *playwrightSession) ReplaceText(ctx context.Context, id, text string) error {
	// Fill clears the field before typing.
	err := s.locator(id).Fill(text, playwright.LocatorFillOptions{Timeout: playwright.Float(millis(ctx, 0))})
	if err != nil {
		return fmt.Errorf("type into #%s: %w", id, err)
	}
	return nil
}

func (s *playwrightSession) Click(ctx context.Context, id string) error {
	err := s.locator(id).Click(playwright.LocatorClickOptions{Timeout: playwright.Float(millis(ctx, 0))})
	if err != nil {
		return fmt.Errorf("click #%s: %w", id, err)
	}
	return nil
}

func (s *playwrightSession) Evaluate(ctx context.Context, script string) ([]byte, error) {
	var v any
	err := guarded(ctx, s.abort, func() (err error) {
		v, err = s.page.Evaluate(script)
		return err
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (s *playwrightSession) OuterHTML(ctx context.Context, id string) (string, error) {
	v, err := s.locator(id).Evaluate("el => el.outerHTML", nil, playwright.LocatorEvaluateOptions{
		Timeout: playwright.Float(millis(ctx, 0)),
	})
	if err != nil {
		return "", fmt.Errorf("read #%s: %w", id, err)
	}
	markup, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("read #%s: %w", id, domain.ErrElementNotFound)
	}
	return markup, nil
}

// abort closes the page so a call blocked inside it returns.
func (s *playwrightSession) abort() {
	_ = s.page.Close()
}

// guarded runs call until it returns or ctx ends. Page calls without a
// timeout option cannot observe ctx, so on expiry abort unblocks them and
// ctx's error is returned.
func guarded(ctx context.Context, abort func(), call func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		abort()
		return ctx.Err()
	}
}

func (s *playwrightSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.page.Close()
		err = s.browser.Close()
	})
	return err
}
