// Package gate bounds how many browser sessions run at once.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"svgscribe/internal/config"
)

// Gate admits a bounded number of concurrent holders. Every successful
// Acquire must be paired with exactly one Release.
type Gate interface {
	Acquire(ctx context.Context) error
	Release()
	Stats() Stats
	Close() error
}

// Stats is a point-in-time view of a gate. Capacity 0 means unbounded.
type Stats struct {
	Backend  string `json:"backend"`
	Capacity int    `json:"capacity"`
	InUse    int64  `json:"in_use"`
	Acquired int64  `json:"acquired"`
	Rejected int64  `json:"rejected"`
}

// DefaultKey is the Redis key holding the shared session count.
const DefaultKey = "svgscribe:sessions"

// FromConfig builds the gate selected by browser.gate_backend. client is only
// used by the redis backend and must be non-nil for it.
func FromConfig(cfg config.Config, client *redis.Client) (Gate, error) {
	switch cfg.Browser.GateBackend {
	case "", "local":
		return NewLocal(cfg.Browser.MaxSessions), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("gate: redis backend without a client")
		}
		// A crashed holder's slot expires once no request could still be using it.
		ttl := cfg.Browser.AcquireTimeout + cfg.Render.Timeout
		return NewRedis(client, DefaultKey, cfg.Browser.MaxSessions, ttl, 100*time.Millisecond), nil
	default:
		return nil, fmt.Errorf("gate: unknown backend %q", cfg.Browser.GateBackend)
	}
}
