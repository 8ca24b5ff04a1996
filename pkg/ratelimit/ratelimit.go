// Package ratelimit spaces out requests to the same origin.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const DefaultMaxJitter = 500 * time.Millisecond

// Limiter keeps one token bucket per origin. Each origin admits one request
// per 60s/rpm with a burst of one, so the first request goes through at
// once and the next waits a full interval. Origins never block each other.
type Limiter struct {
	mu        sync.Mutex
	defRPM    int
	overrides map[string]int
	buckets   map[string]*rate.Limiter
	maxJitter time.Duration

	// Jitter returns the extra delay added after a token is granted.
	Jitter func(max time.Duration) time.Duration
}

func New(defaultRPM int, overrides map[string]int, maxJitter time.Duration) *Limiter {
	if defaultRPM <= 0 {
		defaultRPM = 20
	}
	o := make(map[string]int, len(overrides))
	for k, v := range overrides {
		if v > 0 {
			o[strings.ToLower(k)] = v
		}
	}
	return &Limiter{
		defRPM:    defaultRPM,
		overrides: o,
		buckets:   make(map[string]*rate.Limiter),
		maxJitter: maxJitter,
		Jitter:    randomJitter,
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// RPM reports the requests per minute granted to origin.
func (l *Limiter) RPM(origin string) int {
	if rpm, ok := l.overrides[strings.ToLower(origin)]; ok {
		return rpm
	}
	return l.defRPM
}

// Interval is the minimum spacing between two requests to origin.
func (l *Limiter) Interval(origin string) time.Duration {
	return time.Minute / time.Duration(l.RPM(origin))
}

func (l *Limiter) bucket(origin string) *rate.Limiter {
	key := strings.ToLower(origin)
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Every(l.Interval(key)), 1)
		l.buckets[key] = b
	}
	return b
}

// Wait blocks until origin may be contacted again. It returns ctx.Err()
// when ctx ends first; no slot is consumed in that case.
func (l *Limiter) Wait(ctx context.Context, origin string) error {
	if err := l.bucket(origin).Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	d := l.Jitter(l.maxJitter)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
