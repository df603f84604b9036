package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// FlushLimiter allows up to burst operations per window, refilling evenly
// across the window.
type FlushLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	now     func() time.Time
}

// NewFlushLimiter constructs a limiter; a non-positive window or burst
// disables it.
func NewFlushLimiter(window time.Duration, burst int, timeSource func() time.Time) *FlushLimiter {
	if window <= 0 || burst <= 0 {
		return nil
	}
	if timeSource == nil {
		timeSource = time.Now
	}
	return &FlushLimiter{
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(burst)), burst),
		now:     timeSource,
	}
}

// Allow reports whether the caller may proceed and spends a token when it may.
func (l *FlushLimiter) Allow() bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiter.AllowN(l.now(), 1)
}

// RetryAfter reports how long until the next token, rounded to milliseconds.
func (l *FlushLimiter) RetryAfter() time.Duration {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	missing := 1 - l.limiter.TokensAt(l.now())
	if missing <= 0 {
		return 0
	}
	wait := time.Duration(missing / float64(l.limiter.Limit()) * float64(time.Second))
	return wait.Round(time.Millisecond)
}
