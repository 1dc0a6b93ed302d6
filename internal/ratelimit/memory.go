// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often expired windows are dropped.
const DefaultCleanupInterval = time.Minute

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a per-process fixed-window limiter. It is safe for
// concurrent use. Call Close to stop its cleanup goroutine.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMemoryLimiter creates a MemoryLimiter. A nil clock uses time.Now.
func NewMemoryLimiter(cfg Config, now func() time.Time) (*MemoryLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	l := &MemoryLimiter{
		cfg:      cfg,
		now:      now,
		windows:  make(map[string]*window),
		stopChan: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.cleanupLoop(DefaultCleanupInterval)
	return l, nil
}

// Allow counts one request for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.cfg.Window)}
		l.windows[key] = w
	}
	w.count++
	return decide(l.cfg, w.count, w.resetAt.Sub(now)), nil
}

// KeyCount returns the number of tracked keys.
func (l *MemoryLimiter) KeyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Cleanup drops windows that have ended.
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

func (l *MemoryLimiter) cleanupLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// Close stops the cleanup goroutine and waits for it to exit.
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
	return nil
}
