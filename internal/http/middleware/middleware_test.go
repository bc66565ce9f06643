package middleware

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svgscribe/internal/config"
)

func TestRegister_AddsHealthAndRequestID(t *testing.T) {
	app := fiber.New()
	Register(app, config.Config{})
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	healthReq, _ := http.NewRequest(http.MethodGet, "/ops/health", nil)
	healthResp, err := app.Test(healthReq)
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	if healthResp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected health endpoint 200, got %d", healthResp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("ping request failed: %v", err)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id to be present")
	}
}

func TestRegister_CORSPreflight(t *testing.T) {
	app := fiber.New()
	Register(app, config.Config{})
	app.Post("/foo", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req, _ := http.NewRequest(http.MethodOptions, "/foo", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Content-Type")
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestRegister_RecoversPanics(t *testing.T) {
	app := fiber.New()
	Register(app, config.Config{})
	app.Get("/boom", func(c *fiber.Ctx) error { panic("boom") })

	req, _ := http.NewRequest(http.MethodGet, "/boom", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func rateLimitedConfig() config.Config {
	var cfg config.Config
	cfg.RateLimiter.UserLimit = 1
	cfg.RateLimiter.Interval = time.Minute
	return cfg
}

func TestRegister_ClientRateLimit(t *testing.T) {
	app := fiber.New()
	Register(app, rateLimitedConfig())
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	first, _ := app.Test(mustRequest(t, "agent-a"))
	assert.Equal(t, fiber.StatusOK, first.StatusCode)

	second, _ := app.Test(mustRequest(t, "agent-a"))
	require.Equal(t, fiber.StatusTooManyRequests, second.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.Equal(t, "Too Many Requests", body["message"])

	other, _ := app.Test(mustRequest(t, "agent-b"))
	assert.Equal(t, fiber.StatusOK, other.StatusCode, "a different client has its own window")

	health, _ := http.NewRequest(http.MethodGet, HealthPath, nil)
	health.Header.Set("User-Agent", "agent-a")
	resp, _ := app.Test(health)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode, "health checks are never limited")
}

func mustRequest(t *testing.T, agent string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "/ping", nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", agent)
	return req
}

func TestNewLimiterStore(t *testing.T) {
	if s := newLimiterStore(config.RedisConfig{}); s == nil {
		t.Fatalf("expected non-nil memory store when redis host empty")
	}

	if s := newLimiterStore(config.RedisConfig{Host: "127.0.0.1:1"}); s == nil {
		t.Fatalf("expected memory fallback when redis is unreachable")
	}

	mr := miniredis.RunT(t)
	s := newLimiterStore(config.RedisConfig{Host: mr.Addr(), RateDB: 0})
	require.NotNil(t, s)
	require.NoError(t, s.Set("k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("k"), "redis-backed store must write through to redis")
	_ = s.Close()
}
