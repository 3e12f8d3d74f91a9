// Package ratelimit implements the Rate Limiter (C9): per-principal sliding
// window throttling at the ingress of discovery and publish operations,
// with an in-memory token-bucket approximation for single-instance
// deployments and a Redis-coordinated variant for clusters.
package ratelimit

import (
	"context"
	"time"
)

// Class is one of the four endpoint classes spec.md §4.9 defines, each with
// its own budget.
type Class string

const (
	ClassPublicRead Class = "public-read"
	ClassAuthRead   Class = "auth-read"
	ClassWrite      Class = "write"
	ClassSyncAdmin  Class = "sync-admin"
)

// Policy is the requests-per-minute budget and burst allowance for a Class.
type Policy struct {
	RPM   int
	Burst int
}

// DefaultPolicies are the per-class defaults from spec.md §4.9.
var DefaultPolicies = map[Class]Policy{
	ClassPublicRead: {RPM: 100, Burst: 100},
	ClassAuthRead:   {RPM: 1000, Burst: 1000},
	ClassWrite:      {RPM: 60, Burst: 60},
	ClassSyncAdmin:  {RPM: 10, Burst: 10},
}

// Limiter abstracts the backing store for rate-limit buckets.
type Limiter interface {
	// Allow reports whether key may perform one more action of the given
	// class, and if not, how long the caller should wait before retrying.
	Allow(ctx context.Context, key string, class Class) (allowed bool, retryAfter time.Duration, err error)
}

// Key builds the bucket key for a caller/class pair: principal ID when
// authenticated, else client IP, scoped by endpoint class so a write-heavy
// caller can't starve their own read budget.
func Key(principalOrIP string, class Class) string {
	return string(class) + ":" + principalOrIP
}

func policyFor(policies map[Class]Policy, class Class) Policy {
	if p, ok := policies[class]; ok {
		return p
	}
	return DefaultPolicies[class]
}
