package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/robfig/cron/v3"
)

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter keeps windows in process memory. Expired windows are dropped
// by Sweep, which StartSweeper schedules once per window.
type MemoryLimiter struct {
	cfg   Config
	clock clock.Clock

	mu      sync.Mutex
	windows map[string]*window
}

func NewMemoryLimiter(cfg Config, clk clock.Clock) *MemoryLimiter {
	if clk == nil {
		clk = clock.WallClock
	}
	return &MemoryLimiter{
		cfg:     cfg.normalized(),
		clock:   clk,
		windows: map[string]*window{},
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.cfg.Window)}
		l.windows[key] = w
	}
	w.count++

	return Result{
		Allowed:   w.count <= int64(l.cfg.Requests),
		Limit:     l.cfg.Requests,
		Remaining: remaining(l.cfg.Requests, w.count),
		ResetAt:   w.resetAt,
	}, nil
}

// Sweep removes expired windows and returns how many were removed.
func (l *MemoryLimiter) Sweep() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// StartSweeper runs Sweep on a cron schedule until the returned stop func is called.
func (l *MemoryLimiter) StartSweeper() (func(), error) {
	c := cron.New()
	if _, err := c.AddFunc("@every "+l.cfg.Window.String(), func() { l.Sweep() }); err != nil {
		return nil, errors.Annotate(err, "schedule limiter sweep")
	}
	c.Start()
	return func() {
		<-c.Stop().Done()
	}, nil
}
