package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestDefault_IsValidAndCarriesPresets(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9", cfg.Target.StyleOption)
	assert.Equal(t, 20*time.Second, cfg.Target.InteractTimeout)
	require.Len(t, cfg.Target.Sliders, 3)
	assert.Equal(t, Slider{Name: "speed", ID: "speed-slider", OffsetX: 40}, cfg.Target.Sliders[0])
	assert.Equal(t, 20.0, cfg.Target.Sliders[1].OffsetX)
	assert.Equal(t, 20.0, cfg.Target.Sliders[2].OffsetX)
	assert.Equal(t, "0 0 100 100", cfg.Render.DefaultViewBox)
	assert.Equal(t, 10.0, cfg.Render.ViewBoxMargin)
}

func TestLoadFrom_OverlaysDefaults(t *testing.T) {
	p := writeConfig(t, `server:
  port: ":9000"
browser:
  driver: playwright
  max_sessions: 4
target:
  style_option: "3"
  sliders:
    - name: speed
      id: speed-slider
      offset_x: 10
render:
  poll_interval: 100ms
`)
	cfg := LoadFrom(p)

	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "playwright", cfg.Browser.Driver)
	assert.Equal(t, 4, cfg.Browser.MaxSessions)
	assert.Equal(t, "3", cfg.Target.StyleOption)
	assert.Equal(t, "text-input", cfg.Target.TextInputID)
	require.Len(t, cfg.Target.Sliders, 1)
	assert.Equal(t, 10.0, cfg.Target.Sliders[0].OffsetX)
	assert.Equal(t, 100*time.Millisecond, cfg.Render.PollInterval)
}

func TestLoadFrom_PanicsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{name: "unknown driver", yml: "browser:\n  driver: selenium\n"},
		{name: "redis gate without host", yml: "browser:\n  gate_backend: redis\n"},
		{name: "negative sessions", yml: "browser:\n  max_sessions: -1\n"},
		{name: "empty canvas id", yml: "target:\n  canvas_id: ''\n"},
		{name: "slider without id", yml: "target:\n  sliders:\n    - name: speed\n"},
		{name: "zero stable samples", yml: "render:\n  stable_samples: 0\n"},
		{name: "limiter without interval", yml: "rate_limiter:\n  user_limit: 5\n  interval: 0s\n"},
		{name: "malformed yaml", yml: "server: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, tc.yml)
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			_ = LoadFrom(p)
		})
	}
}

func TestLoadFrom_MissingFilePanics(t *testing.T) {
	assert.Panics(t, func() { LoadFrom(filepath.Join(t.TempDir(), "nope.yaml")) })
}

func TestLoad_UsesConfigPathEnv(t *testing.T) {
	p := writeConfig(t, "server:\n  port: \":7000\"\n")
	t.Setenv("CONFIG_PATH", p)
	assert.Equal(t, ":7000", Load().Server.Port)
}

func TestLoad_FallsBackToDefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("CHROME_BIN", "/opt/chrome")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg := Load()
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
	assert.Equal(t, "/opt/chrome", cfg.Browser.ChromePath)
}
