// Package throttle bounds upstream calls per (tenant, instance) pair.
// Pairs never share slots, so one busy tenant cannot starve another.
package throttle

import (
	"context"
	"sync"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds per-pair limits
type Config struct {
	MaxConcurrent     int64   // in-flight calls per pair
	RequestsPerSecond float64 // 0 disables rate limiting
	Burst             int
}

type pairLimiter struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// PairThrottle implements port.PairThrottle
type PairThrottle struct {
	cfg   Config
	mu    sync.Mutex
	pairs map[string]*pairLimiter
}

// New creates a PairThrottle
func New(cfg Config) *PairThrottle {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &PairThrottle{
		cfg:   cfg,
		pairs: make(map[string]*pairLimiter),
	}
}

func (t *PairThrottle) get(pairKey string) *pairLimiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pairs[pairKey]
	if !ok {
		p = &pairLimiter{sem: semaphore.NewWeighted(t.cfg.MaxConcurrent)}
		if t.cfg.RequestsPerSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(t.cfg.RequestsPerSecond), t.cfg.Burst)
		}
		t.pairs[pairKey] = p
	}
	return p
}

// Acquire blocks until the pair has a free slot and rate budget
func (t *PairThrottle) Acquire(ctx context.Context, pairKey string) (func(), error) {
	p := t.get(pairKey)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.sem.Release(1)
			return nil, err
		}
	}

	var once sync.Once
	return func() { once.Do(func() { p.sem.Release(1) }) }, nil
}

// Verify interface compliance
var _ port.PairThrottle = (*PairThrottle)(nil)
