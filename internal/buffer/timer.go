// Package buffer provides the per-conversation debounce timer primitive.
package buffer

import (
	"log/slog"
	"sync"
	"time"
)

// timerEntry tracks one scheduled debounce expiry.
type timerEntry struct {
	timer       *time.Timer
	scheduledAt time.Time
	expiresAt   time.Time
}

// KeyTimer is a cancelable, resettable delay keyed by conversation key. It
// implements debounce-with-reset: every Reset for the same key cancels the
// pending expiry and starts a fresh one.
type KeyTimer struct {
	timers map[string]*timerEntry
	mu     sync.Mutex
}

// NewKeyTimer creates an empty KeyTimer.
func NewKeyTimer() *KeyTimer {
	return &KeyTimer{timers: make(map[string]*timerEntry)}
}

// Reset schedules fn to run after delay for the given key, canceling any
// pending timer for that key. fn runs on the timer goroutine exactly once
// unless Reset or Cancel intervenes.
func (t *KeyTimer) Reset(key string, delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[key]; exists {
		entry.timer.Stop()
	}

	now := time.Now()
	timer := time.AfterFunc(delay, func() {
		t.mu.Lock()
		delete(t.timers, key)
		t.mu.Unlock()
		slog.Debug("KeyTimer expired", "key", key, "delay", delay)
		fn()
	})
	t.timers[key] = &timerEntry{
		timer:       timer,
		scheduledAt: now,
		expiresAt:   now.Add(delay),
	}
	slog.Debug("KeyTimer reset", "key", key, "delay", delay)
}

// Cancel stops the pending timer for key, if any.
func (t *KeyTimer) Cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[key]; exists {
		entry.timer.Stop()
		delete(t.timers, key)
		slog.Debug("KeyTimer canceled", "key", key)
	}
}

// Active reports whether a timer is pending for key.
func (t *KeyTimer) Active(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.timers[key]
	return exists
}

// Stop cancels all pending timers.
func (t *KeyTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	slog.Debug("KeyTimer stopping all timers", "count", len(t.timers))
	for key, entry := range t.timers {
		entry.timer.Stop()
		delete(t.timers, key)
	}
}
