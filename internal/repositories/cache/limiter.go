package cache

import (
	"context"
	"time"
)

// AttemptLimiter counts failed attempts per subject in a fixed window that
// starts with the first failure. Once max failures are recorded the subject
// stays blocked until the window expires.
type AttemptLimiter struct {
	cache  *CacheService
	max    int
	window time.Duration
}

func NewAttemptLimiter(cache *CacheService, max int, window time.Duration) *AttemptLimiter {
	return &AttemptLimiter{cache: cache, max: max, window: window}
}

func (l *AttemptLimiter) key(subject string) string {
	return l.cache.GenerateKey("escrow", "code_attempts", subject)
}

// Blocked reports whether subject has exhausted its attempts.
func (l *AttemptLimiter) Blocked(ctx context.Context, subject string) (bool, error) {
	if l.max <= 0 {
		return false, nil
	}
	n, err := l.cache.Counter(ctx, l.key(subject))
	if err != nil {
		return false, err
	}
	return n >= int64(l.max), nil
}

// RecordFailure counts one failed attempt and returns the running total.
func (l *AttemptLimiter) RecordFailure(ctx context.Context, subject string) (int64, error) {
	return l.cache.Incr(ctx, l.key(subject), l.window)
}

// Reset forgets the failures recorded for subject.
func (l *AttemptLimiter) Reset(ctx context.Context, subject string) error {
	return l.cache.Delete(ctx, l.key(subject))
}
