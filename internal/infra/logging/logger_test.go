package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func bufferLogger(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	SetLoggerForTest(zerolog.New(&buf).With().Timestamp().Logger().Level(lvl))
	return &buf
}

func TestInfoWritesKeyValues(t *testing.T) {
	buf := bufferLogger(t, "info")

	Info("session opened", "driver", "chromedp", "sessions", 2, "headless", true)

	out := buf.String()
	if !strings.Contains(out, "session opened") {
		t.Fatalf("message missing: %s", out)
	}
	for _, want := range []string{`"driver":"chromedp"`, `"sessions":2`, `"headless":true`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestWarnAndError(t *testing.T) {
	buf := bufferLogger(t, "warn")

	Warn("teardown failed", "code", 99)
	Error("render failed", "stage", "extract")

	out := buf.String()
	if !strings.Contains(out, "teardown failed") || !strings.Contains(out, `"code":99`) {
		t.Fatalf("warn output missing: %s", out)
	}
	if !strings.Contains(out, `"stage":"extract"`) {
		t.Fatalf("error output missing: %s", out)
	}
}

func TestSetLogLevelLowersThreshold(t *testing.T) {
	buf := bufferLogger(t, "warn")

	Info("filtered")
	SetLogLevel("info")
	Info("visible")

	out := buf.String()
	if strings.Contains(out, "filtered") {
		t.Fatalf("info should be filtered at warn: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("info should pass after SetLogLevel: %s", out)
	}
}
