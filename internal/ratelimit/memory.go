package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newBucket(p Policy) *bucket {
	rate := float64(p.RPM) / 60.0
	if rate <= 0 {
		rate = 1
	}
	capacity := p.Burst
	if capacity <= 0 {
		capacity = p.RPM
	}
	return &bucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (b *bucket) allow() (bool, time.Duration) {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	deficit := 1 - b.tokens
	wait := time.Duration(deficit/b.refillRate*1000) * time.Millisecond
	return false, wait
}

// MemoryLimiter is an in-process token-bucket Limiter for single-instance
// deployments; every instance has its own independent budget.
type MemoryLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	policies map[Class]Policy
}

// NewMemoryLimiter creates a MemoryLimiter. A nil/empty policies map falls
// back to DefaultPolicies.
func NewMemoryLimiter(policies map[Class]Policy) *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*bucket), policies: policies}
}

// Allow implements Limiter.
func (m *MemoryLimiter) Allow(_ context.Context, key string, class Class) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = newBucket(policyFor(m.policies, class))
		m.buckets[key] = b
	}
	allowed, wait := b.allow()
	return allowed, wait, nil
}

// Sweep removes buckets idle for longer than maxIdle, bounding memory use
// for a long-running instance with many distinct callers.
func (m *MemoryLimiter) Sweep(maxIdle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for k, b := range m.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(m.buckets, k)
		}
	}
}
