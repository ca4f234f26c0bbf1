package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BackpressurePolicy bounds how fast one requester may submit plans.
type BackpressurePolicy struct {
	RPM   int `mapstructure:"rpm"`
	Burst int `mapstructure:"burst"`
}

// DefaultBackpressurePolicy allows 60 submissions per minute with bursts of 10.
func DefaultBackpressurePolicy() BackpressurePolicy {
	return BackpressurePolicy{RPM: 60, Burst: 10}
}

func (p BackpressurePolicy) perSecond() float64 {
	r := float64(p.RPM) / 60.0
	if r <= 0 {
		r = 1
	}
	return r
}

func (p BackpressurePolicy) burst() int {
	if p.Burst <= 0 {
		return 1
	}
	return p.Burst
}

// LimiterStore holds per-requester token buckets.
type LimiterStore interface {
	// Allow consumes cost tokens for key and reports whether it may proceed.
	Allow(ctx context.Context, key string, policy BackpressurePolicy, cost int) (bool, error)
}

// InMemoryLimiterStore is a single-process LimiterStore.
type InMemoryLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewInMemoryLimiterStore() *InMemoryLimiterStore {
	return &InMemoryLimiterStore{limiters: make(map[string]*rate.Limiter), now: time.Now}
}

func (s *InMemoryLimiterStore) Allow(_ context.Context, key string, policy BackpressurePolicy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(policy.perSecond()), policy.burst())
		s.limiters[key] = l
	}
	return l.AllowN(s.now(), cost), nil
}
