// Package buffer implements the inbound debounce buffer manager.
//
// It accumulates message fragments per conversation key, resets an inactivity
// timer on every append, and hands the accumulated fragments to a flush
// function as one unit when the timer expires or a hard size cap is reached.
// At most one flush per key is in flight at any time.
package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

// Default tunables for the debounce buffer.
const (
	// DefaultDebounce is the inactivity window after the last fragment
	// before a burst is flushed.
	DefaultDebounce = 8 * time.Second
	// DefaultMaxBufferSize is the fragment count that forces an immediate
	// flush without waiting for the timer.
	DefaultMaxBufferSize = 20
	// DefaultIdleTTL is how long an empty, inactive buffer survives before
	// eviction.
	DefaultIdleTTL = 30 * time.Minute
)

// phoneKeyRegex matches characters stripped during key canonicalization.
var phoneKeyRegex = regexp.MustCompile(`[^0-9]`)

// FlushFunc consumes one flushed unit. It runs on a dedicated goroutine for
// the unit's conversation key; the manager guarantees no two invocations for
// the same key overlap.
type FlushFunc func(ctx context.Context, unit models.FlushUnit)

// Opts holds configuration for the Manager.
type Opts struct {
	Debounce      time.Duration
	MaxBufferSize int
	IdleTTL       time.Duration
}

// Option defines a configuration option for the Manager.
type Option func(*Opts)

// WithDebounce sets the inactivity window before a burst is flushed.
func WithDebounce(d time.Duration) Option {
	return func(o *Opts) { o.Debounce = d }
}

// WithMaxBufferSize sets the fragment cap that forces an immediate flush.
func WithMaxBufferSize(n int) Option {
	return func(o *Opts) { o.MaxBufferSize = n }
}

// WithIdleTTL sets how long idle buffers are kept before eviction.
func WithIdleTTL(d time.Duration) Option {
	return func(o *Opts) { o.IdleTTL = d }
}

// conversationBuffer is the mutable per-key accumulation state. The buffer
// state machine is idle -> accumulating -> flushing -> idle; isFlushing covers
// the whole flush handoff and pendingFlush records a flush trigger that
// arrived while one was already in flight.
type conversationBuffer struct {
	key          string
	fragments    []models.InboundFragment
	createdAt    time.Time
	lastAppendAt time.Time
	isFlushing   bool
	pendingFlush bool
}

// Manager owns all conversation buffers and their debounce timers.
type Manager struct {
	mu      sync.Mutex
	buffers map[string]*conversationBuffer
	// seqs survives buffer eviction so sequence IDs stay monotonic for the
	// lifetime of the process.
	seqs    map[string]int64
	timer   *KeyTimer
	flushFn FlushFunc
	opts    Opts

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a buffer manager that hands flushed units to flushFn.
func NewManager(flushFn FlushFunc, opts ...Option) *Manager {
	cfg := Opts{
		Debounce:      DefaultDebounce,
		MaxBufferSize: DefaultMaxBufferSize,
		IdleTTL:       DefaultIdleTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Creating buffer Manager", "debounce", cfg.Debounce, "max_buffer_size", cfg.MaxBufferSize, "idle_ttl", cfg.IdleTTL)
	return &Manager{
		buffers: make(map[string]*conversationBuffer),
		seqs:    make(map[string]int64),
		timer:   NewKeyTimer(),
		flushFn: flushFn,
		opts:    cfg,
	}
}

// CanonicalizeKey validates and canonicalizes a conversation key (a phone
// number in any common format). Returns models.ErrInvalidConversationKey for
// malformed input.
func CanonicalizeKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", models.ErrInvalidConversationKey)
	}
	canonical := phoneKeyRegex.ReplaceAllString(key, "")
	if canonical == "" {
		return "", fmt.Errorf("%w: no digits in %q", models.ErrInvalidConversationKey, key)
	}
	if len(canonical) < 8 || len(canonical) > 15 {
		return "", fmt.Errorf("%w: %q has %d digits, expected 8-15", models.ErrInvalidConversationKey, key, len(canonical))
	}
	return canonical, nil
}

// Start launches the idle-buffer janitor. It runs until ctx is canceled or
// Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	janitorCtx := m.ctx
	m.mu.Unlock()

	go m.evictIdleLoop(janitorCtx)
	slog.Info("Buffer manager started", "debounce", m.opts.Debounce, "max_buffer_size", m.opts.MaxBufferSize)
}

// Stop cancels all timers and the janitor. In-flight flushes drain on their
// own goroutines.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	m.timer.Stop()
	slog.Info("Buffer manager stopped")
}

// Append records one inbound event as a fragment for its conversation,
// creating the buffer if absent and resetting the debounce timer. Reaching
// the size cap cancels the timer and triggers an immediate flush.
func (m *Manager) Append(event models.InboundEvent) error {
	key, err := CanonicalizeKey(event.ConversationKey)
	if err != nil {
		slog.Error("Buffer Append rejected event", "error", err, "key", event.ConversationKey)
		return err
	}

	m.mu.Lock()
	buf, exists := m.buffers[key]
	if !exists {
		now := time.Now()
		buf = &conversationBuffer{key: key, createdAt: now}
		m.buffers[key] = buf
		slog.Debug("Buffer created", "key", key)
	}

	m.seqs[key]++
	fragment := models.InboundFragment{
		ConversationKey:   key,
		SequenceID:        m.seqs[key],
		Kind:              event.Kind,
		TextContent:       event.TextContent,
		MediaReference:    event.MediaReference,
		ProviderMessageID: event.ProviderMessageID,
		ReceivedAt:        event.ReceivedAt,
	}
	buf.fragments = append(buf.fragments, fragment)
	buf.lastAppendAt = time.Now()
	count := len(buf.fragments)
	m.mu.Unlock()

	slog.Debug("Buffer fragment appended", "key", key, "seq", fragment.SequenceID, "kind", fragment.Kind, "count", count)

	if count >= m.opts.MaxBufferSize {
		slog.Info("Buffer size cap reached, flushing immediately", "key", key, "count", count)
		m.timer.Cancel(key)
		m.triggerFlush(key)
		return nil
	}

	m.timer.Reset(key, m.opts.Debounce, func() { m.triggerFlush(key) })
	return nil
}

// Flush forces an immediate flush for key, bypassing the debounce timer.
// Flushing a key with no accumulated fragments is a no-op.
func (m *Manager) Flush(key string) error {
	canonical, err := CanonicalizeKey(key)
	if err != nil {
		return err
	}
	m.timer.Cancel(canonical)
	m.triggerFlush(canonical)
	return nil
}

// ActiveConversations returns the number of live conversation buffers.
func (m *Manager) ActiveConversations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers)
}

// triggerFlush hands the accumulated fragments to the flush function on a new
// goroutine. If a flush for the key is already draining, the trigger is
// recorded and honored as soon as the in-flight one completes; fragments keep
// accumulating meanwhile and none are dropped.
func (m *Manager) triggerFlush(key string) {
	m.mu.Lock()
	buf, exists := m.buffers[key]
	if !exists || len(buf.fragments) == 0 {
		m.mu.Unlock()
		slog.Debug("Buffer flush no-op, nothing accumulated", "key", key)
		return
	}
	if buf.isFlushing {
		buf.pendingFlush = true
		m.mu.Unlock()
		slog.Debug("Buffer flush deferred, previous flush still draining", "key", key)
		return
	}

	fragments := buf.fragments
	buf.fragments = nil
	buf.isFlushing = true
	ctx := m.ctx
	m.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	unit := buildFlushUnit(key, fragments)
	slog.Info("Buffer flushing", "key", key, "fragments", len(fragments), "text_length", len(unit.Text), "attachments", len(unit.Attachments))

	go func() {
		m.flushFn(ctx, unit)
		m.completeFlush(key)
	}()
}

// completeFlush clears the in-flight marker and either re-flushes fragments
// that arrived during the drain (when their timer already fired) or evicts
// the now-empty buffer.
func (m *Manager) completeFlush(key string) {
	m.mu.Lock()
	buf, exists := m.buffers[key]
	if !exists {
		m.mu.Unlock()
		return
	}
	buf.isFlushing = false

	if len(buf.fragments) == 0 {
		buf.pendingFlush = false
		if !m.timer.Active(key) {
			delete(m.buffers, key)
			slog.Debug("Buffer evicted after flush", "key", key)
		}
		m.mu.Unlock()
		return
	}

	refire := buf.pendingFlush
	buf.pendingFlush = false
	m.mu.Unlock()

	if refire {
		slog.Debug("Buffer re-flushing fragments that arrived mid-flush", "key", key)
		m.triggerFlush(key)
	}
}

// buildFlushUnit concatenates text fragments in sequence order with single
// newlines and collects non-text fragments as typed attachments.
func buildFlushUnit(key string, fragments []models.InboundFragment) models.FlushUnit {
	var textParts []string
	var attachments []models.Attachment

	for _, f := range fragments {
		switch f.Kind {
		case models.FragmentKindText:
			if f.TextContent != "" {
				textParts = append(textParts, f.TextContent)
			}
		default:
			attachments = append(attachments, models.Attachment{
				Kind:      f.Kind,
				Reference: f.MediaReference,
				Caption:   f.TextContent,
			})
			if f.TextContent != "" {
				textParts = append(textParts, f.TextContent)
			}
		}
	}

	return models.FlushUnit{
		ConversationKey: key,
		Text:            strings.Join(textParts, "\n"),
		Attachments:     attachments,
		Fragments:       fragments,
		FlushedAt:       time.Now(),
	}
}

// evictIdleLoop periodically removes buffers with no activity beyond the idle
// TTL. Buffers with pending fragments or an in-flight flush are skipped.
func (m *Manager) evictIdleLoop(ctx context.Context) {
	interval := m.opts.IdleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.opts.IdleTTL)
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, buf := range m.buffers {
		if buf.isFlushing || len(buf.fragments) > 0 {
			continue
		}
		if buf.lastAppendAt.Before(cutoff) {
			delete(m.buffers, key)
			slog.Debug("Buffer evicted as idle", "key", key)
		}
	}
}
