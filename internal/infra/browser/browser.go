// Package browser drives a real browser against the handwriting page.
// A Driver launches one fresh Session per request; a Session is never
// shared or reused and must be closed by whoever opened it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"svgscribe/internal/config"
)

// Session is one browser instance with one loaded page. Element arguments
// are DOM ids.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitInteractable blocks until the element is visible and enabled, or timeout elapses.
	WaitInteractable(ctx context.Context, id string, timeout time.Duration) error
	// DragBy presses the mouse at the element's centre and releases it dx, dy pixels away.
	DragBy(ctx context.Context, id string, dx, dy float64) error
	// SelectByText chooses the option whose visible text equals label.
	SelectByText(ctx context.Context, id, label string) error
	// ReplaceText clears an input and types text into it.
	ReplaceText(ctx context.Context, id, text string) error
	Click(ctx context.Context, id string) error
	// Evaluate runs script and returns its JSON value; null and undefined both yield "null".
	Evaluate(ctx context.Context, script string) ([]byte, error)
	OuterHTML(ctx context.Context, id string) (string, error)
	// Close releases the browser. It is safe to call more than once.
	Close() error
}

// Driver launches sessions.
type Driver interface {
	Name() string
	Open(ctx context.Context) (Session, error)
	Close() error
}

// NewDriver returns the driver named by cfg.Driver.
func NewDriver(cfg config.BrowserConfig) (Driver, error) {
	switch cfg.Driver {
	case "", "chromedp":
		return NewChromeDriver(cfg), nil
	case "playwright":
		return NewPlaywrightDriver(cfg), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}

// IsSessionInterrupted reports whether err means the browser went away or the
// caller stopped waiting, rather than the page misbehaving.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"target closed", "websocket", "browser has been closed", "connection closed", "invalid context"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// withDeadline bounds ctx by timeout unless ctx already expires sooner.
func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
