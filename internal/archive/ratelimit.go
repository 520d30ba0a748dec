package archive

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default minimum interval between uploads per backend.
var defaultIntervals = map[string]time.Duration{
	"local": 0,
	"gcs":   10 * time.Second,
	"drive": 30 * time.Second,
}

// RateLimiterMap holds one rate.Limiter per backend name.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiterMap creates limiters from the default intervals, with
// overrides taking precedence. A zero interval means unlimited.
func NewRateLimiterMap(overrides map[string]time.Duration) *RateLimiterMap {
	m := &RateLimiterMap{limiters: make(map[string]*rate.Limiter)}
	for name, every := range defaultIntervals {
		m.set(name, every)
	}
	for name, every := range overrides {
		m.set(name, every)
	}
	return m
}

func (m *RateLimiterMap) set(name string, every time.Duration) {
	if every <= 0 {
		delete(m.limiters, name)
		return
	}
	m.limiters[name] = rate.NewLimiter(rate.Every(every), 1)
}

// Wait blocks until the limiter for the given backend allows an upload, or
// the context is canceled. Backends without a limiter never wait.
func (m *RateLimiterMap) Wait(ctx context.Context, name string) error {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
