package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"svgscribe/internal/config"
	"svgscribe/internal/domain"
)

// ChromeDriver launches a dedicated Chrome process per session through chromedp.
type ChromeDriver struct {
	cfg config.BrowserConfig
}

func NewChromeDriver(cfg config.BrowserConfig) *ChromeDriver {
	return &ChromeDriver{cfg: cfg}
}

func (d *ChromeDriver) Name() string { return "chromedp" }

// Close is a no-op: every Chrome process belongs to a session.
func (d *ChromeDriver) Close() error { return nil }

// createProfileDir makes a throwaway user data dir so concurrent sessions
// never share browser state.
func createProfileDir(cfg config.BrowserConfig) (string, error) {
	base := cfg.UserDataDir
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create profile base %s: %w", base, err)
	}
	dir, err := os.MkdirTemp(base, "svgscribe-chrome-*")
	if err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	return dir, nil
}

func (d *ChromeDriver) allocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.WindowSize(d.cfg.WindowWidth, d.cfg.WindowHeight),
		chromedp.Flag("start-maximized", true),
		// Force software rendering and avoid Vulkan/ANGLE issues in minimal container environments.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if !d.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if d.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(d.cfg.ChromePath))
	}
	if d.cfg.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	return opts
}

// Open starts Chrome and its first tab. On failure nothing is left running.
func (d *ChromeDriver) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	profileDir, err := createProfileDir(d.cfg)
	if err != nil {
		return nil, err
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), d.allocatorOptions(profileDir)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx:        tabCtx,
		cancelTab:  cancelTab,
		cancelAll:  cancelAlloc,
		profileDir: profileDir,
	}
	// The first Run allocates the browser and binds it to the context it is
	// given, so it runs on the tab context itself; ctx only bounds the wait.
	launched := make(chan error, 1)
	go func() { launched <- chromedp.Run(tabCtx) }()
	select {
	case err := <-launched:
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
	case <-ctx.Done():
		_ = s.Close()
		<-launched
		return nil, fmt.Errorf("launch chrome: %w", ctx.Err())
	}
	return s, nil
}

type chromeSession struct {
	ctx        context.Context
	cancelTab  context.CancelFunc
	cancelAll  context.CancelFunc
	profileDir string

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

// run executes actions on the tab while honouring ctx's deadline and
// cancellation. Cancelling the derived context aborts the actions without
// closing the tab.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return domain.ErrSessionClosed
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDl context.CancelFunc
		runCtx, cancelDl = context.WithDeadline(runCtx, dl)
		defer cancelDl()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func byID(id string) string { return "#" + id }

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *chromeSession) WaitInteractable(ctx context.Context, id string, timeout time.Duration) error {
	waitCtx, cancel := withDeadline(ctx, timeout)
	defer cancel()
	err := s.run(waitCtx,
		chromedp.WaitVisible(byID(id), chromedp.ByQuery),
		chromedp.WaitEnabled(byID(id), chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("wait for #%s: %w", id, err)
	}
	return nil
}

func (s *chromeSession) DragBy(ctx context.Context, id string, dx, dy float64) error {
	var center *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := s.run(ctx, chromedp.Evaluate(centerScript(id), &center)); err != nil {
		return fmt.Errorf("locate #%s: %w", id, err)
	}
	if center == nil {
		return fmt.Errorf("drag #%s: %w", id, domain.ErrElementNotFound)
	}

	x, y := center.X, center.Y
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).
			WithButtons(1).
			WithClickCount(1).
			Do(ctx); err != nil {
			return err
		}
		if err := input.DispatchMouseEvent(input.MouseMoved, x+dx, y+dy).
			WithButton(input.Left).
			WithButtons(1).
			Do(ctx); err != nil {
			return err
		}
		return input.DispatchMouseEvent(input.MouseReleased, x+dx, y+dy).
			WithButton(input.Left).
			WithClickCount(1).
			Do(ctx)
	}))
}

func (s *chromeSession) SelectByText(ctx context.Context, id, label string) error {
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(selectByTextScript(id, label), &ok)); err != nil {
		return fmt.Errorf("select %q in #%s: %w", label, id, err)
	}
	if !ok {
		return fmt.Errorf("select %q in #%s: %w", label, id, domain.ErrOptionNotFound)
	}
	return nil
}

func (s *chromeSession) ReplaceText(ctx context.Context, id, text string) error {
	actions := []chromedp.Action{chromedp.Clear(byID(id), chromedp.ByQuery)}
	if text != "" {
		actions = append(actions, chromedp.SendKeys(byID(id), text, chromedp.ByQuery))
	}
	if err := s.run(ctx, actions...); err != nil {
		return fmt.Errorf("type into #%s: %w", id, err)
	}
	return nil
}

func (s *chromeSession) Click(ctx context.Context, id string) error {
	if err := s.run(ctx, chromedp.Click(byID(id), chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click #%s: %w", id, err)
	}
	return nil
}

func (s *chromeSession) Evaluate(ctx context.Context, script string) ([]byte, error) {
	var raw []byte
	err := s.run(ctx, chromedp.Evaluate(script, &raw))
	if errors.Is(err, chromedp.ErrJSNull) || errors.Is(err, chromedp.ErrJSUndefined) {
		return []byte("null"), nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *chromeSession) OuterHTML(ctx context.Context, id string) (string, error) {
	var markup string
	if err := s.run(ctx, chromedp.OuterHTML(byID(id), &markup, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read #%s: %w", id, err)
	}
	return markup, nil
}

// Close shuts the tab and the browser process and removes the profile dir.
func (s *chromeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancelTab()
		s.cancelAll()
		err = os.RemoveAll(s.profileDir)
	})
	return err
}
