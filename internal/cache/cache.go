// Package cache stores successful connector responses for a short time so
// that identical invocations are served without re-dispatching.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/switchboard/internal/observability"
	"github.com/pitabwire/switchboard/model"
)

// Default timings.
const (
	DefaultTTL           = 60 * time.Second
	DefaultMaxAge        = 5 * time.Minute
	DefaultSweepInterval = 60 * time.Second
)

// Cache stores successful responses keyed by Key.
type Cache interface {
	// Get returns a copy of the cached response with Cached set, if an entry
	// younger than the serve TTL exists.
	Get(ctx context.Context, key string) (model.Response, bool, error)
	// Put stores resp. Failed responses are ignored.
	Put(ctx context.Context, key string, resp model.Response) error
	// Sweep removes entries older than the maximum age and returns how many
	// were removed.
	Sweep(ctx context.Context) (int, error)
}

// Options configures cache timings.
type Options struct {
	// TTL is how long an entry is served after being stored.
	TTL time.Duration
	// MaxAge is how long an entry is retained before the sweep removes it.
	MaxAge time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	if o.MaxAge < o.TTL {
		o.MaxAge = o.TTL
	}
	return o
}

// Key builds the cache key for an invocation. The digest covers the
// length-prefixed connector id and action followed by the params as JSON,
// whose encoder sorts map keys at every level, so logically equal parameter
// sets produce the same key and ids containing ':' cannot collide.
func Key(connectorID, action string, params map[string]any) string {
	var raw []byte
	if len(params) == 0 {
		raw = []byte("{}")
	} else {
		b, err := json.Marshal(params)
		if err != nil {
			// fmt prints maps with sorted keys as well.
			b = []byte(fmt.Sprintf("%v", params))
		}
		raw = b
	}
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s%d:%s", len(connectorID), connectorID, len(action), action)
	h.Write(raw)
	return connectorID + ":" + action + ":" + hex.EncodeToString(h.Sum(nil))
}

// hit marks a stored response as served from cache. Duration keeps the
// original dispatch cost.
func hit(stored model.Response) model.Response {
	resp := stored.Clone()
	resp.Cached = true
	return resp
}

// RunSweeper calls Sweep every interval until ctx is cancelled. metrics may
// be nil.
func RunSweeper(ctx context.Context, c Cache, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Sweep(ctx)
			if err != nil {
				logger.Error("cache sweep failed", zap.Error(err))
				continue
			}
			metrics.RecordCacheEvictions(n)
			if n > 0 {
				logger.Debug("cache sweep", zap.Int("evicted", n))
			}
		}
	}
}
