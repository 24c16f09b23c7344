// Package agent wires the conversation pipeline together: inbound events are
// debounced per conversation, each flushed burst advances the qualification
// machine, and the generated reply is chunked and delivered with humanized
// pacing. A new inbound message aborts any delivery still in flight for that
// conversation, so the lead never talks over a stale reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/buffer"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/chunker"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/delivery"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/messaging"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/qualify"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/store"
)

// Opts holds configuration options for the Agent.
type Opts struct {
	BufferOptions []buffer.Option
}

// Option defines a configuration option for the Agent.
type Option func(*Opts)

// WithBufferOptions forwards options to the inbound debounce buffer.
func WithBufferOptions(opts ...buffer.Option) Option {
	return func(o *Opts) { o.BufferOptions = opts }
}

// Agent coordinates the inbound buffer, qualification machine, chunker and
// delivery scheduler for all conversations.
type Agent struct {
	messenger messaging.Service
	store     store.Store
	machine   *qualify.Machine
	engine    *chunker.Engine
	scheduler *delivery.Scheduler
	buffer    *buffer.Manager

	mu         sync.Mutex
	deliveries map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAgent creates an Agent over the given collaborators.
func NewAgent(messenger messaging.Service, st store.Store, machine *qualify.Machine, engine *chunker.Engine, opts ...Option) *Agent {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	a := &Agent{
		messenger:  messenger,
		store:      st,
		machine:    machine,
		engine:     engine,
		scheduler:  delivery.NewScheduler(&serviceSender{messenger}),
		deliveries: make(map[string]context.CancelFunc),
	}
	a.buffer = buffer.NewManager(a.processFlush, cfg.BufferOptions...)
	return a
}

// serviceSender adapts messaging.Service to the delivery.Sender primitives.
type serviceSender struct {
	svc messaging.Service
}

func (s *serviceSender) SendText(ctx context.Context, to string, text string) error {
	return s.svc.SendMessage(ctx, to, text)
}

func (s *serviceSender) SendComposing(ctx context.Context, to string, duration time.Duration) error {
	return s.svc.SendComposing(ctx, to, duration)
}

// Start launches the inbound event loop and the buffer janitor. It returns
// once the background goroutines are running.
func (a *Agent) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.buffer.Start(a.ctx)

	if err := a.messenger.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				return
			case event, ok := <-a.messenger.Inbound():
				if !ok {
					return
				}
				if err := a.HandleInbound(event); err != nil {
					slog.Warn("Agent dropping inbound event", "key", event.ConversationKey, "error", err)
				}
			}
		}
	}()

	slog.Info("Agent started")
	return nil
}

// Stop cancels in-flight deliveries and stops background processing.
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.buffer.Stop()
	a.wg.Wait()
	slog.Info("Agent stopped")
}

// HandleInbound validates and buffers one inbound event. Any delivery still
// in flight for the conversation is aborted first, before the next fragment
// goes out.
func (a *Agent) HandleInbound(event models.InboundEvent) error {
	key, err := buffer.CanonicalizeKey(event.ConversationKey)
	if err != nil {
		return err
	}
	event.ConversationKey = key
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	a.abortDelivery(key)

	if content := transcriptContent(event); content != "" {
		if err := a.store.AddMessage(models.ConversationMessage{
			ConversationKey: key,
			Role:            "user",
			Content:         content,
			Timestamp:       event.ReceivedAt,
		}); err != nil {
			slog.Error("Agent failed to record inbound message", "key", key, "error", err)
		}
	}

	return a.buffer.Append(event)
}

// Flush forces an immediate flush of the conversation's buffer, bypassing the
// debounce window. Used by the HTTP API for operational nudges.
func (a *Agent) Flush(key string) error {
	canonical, err := buffer.CanonicalizeKey(key)
	if err != nil {
		return err
	}
	return a.buffer.Flush(canonical)
}

// Profile returns the stored qualification profile for a conversation, or nil
// when the conversation is unknown.
func (a *Agent) Profile(key string) (*models.QualificationProfile, error) {
	canonical, err := buffer.CanonicalizeKey(key)
	if err != nil {
		return nil, err
	}
	return a.store.GetProfile(canonical)
}

// History returns the persisted transcript for a conversation.
func (a *Agent) History(key string) ([]models.ConversationMessage, error) {
	canonical, err := buffer.CanonicalizeKey(key)
	if err != nil {
		return nil, err
	}
	return a.store.GetHistory(canonical)
}

// ActiveConversations reports the number of conversations with buffered
// fragments, for the health endpoint.
func (a *Agent) ActiveConversations() int {
	return a.buffer.ActiveConversations()
}

// processFlush is the buffer's flush callback: one burst in, one paced reply
// out. The buffer guarantees at most one invocation in flight per key.
func (a *Agent) processFlush(ctx context.Context, unit models.FlushUnit) {
	key := unit.ConversationKey
	slog.Debug("Agent processing flush", "key", key, "fragments", len(unit.Fragments))

	plan, err := a.machine.Advance(ctx, unit)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrGenerationUnavailable):
			slog.Warn("Agent reply generation unavailable, sending retry prompt", "key", key)
		case plan.ReplyText != "":
			// Persistence failed but the machine still produced a
			// holding reply; the lead should not be met with silence.
			slog.Error("Agent qualification advance failed, sending retry prompt", "key", key, "error", err)
		default:
			slog.Error("Agent qualification advance failed", "key", key, "error", err)
			return
		}
	}
	if plan.ReplyText == "" {
		slog.Debug("Agent advance produced no reply", "key", key, "stage", plan.TargetStage)
		return
	}

	if err := a.store.AddMessage(models.ConversationMessage{
		ConversationKey: key,
		Role:            "assistant",
		Content:         plan.ReplyText,
		Timestamp:       time.Now(),
	}); err != nil {
		slog.Error("Agent failed to record reply", "key", key, "error", err)
	}

	fragPlan := a.engine.Plan(plan.ReplyText, plan.TargetStage)
	fragPlan.ConversationKey = key

	dctx := a.beginDelivery(key)
	defer a.endDelivery(key)

	if err := a.scheduler.Deliver(dctx, fragPlan); err != nil {
		if errors.Is(err, models.ErrDeliveryAborted) {
			slog.Info("Agent delivery aborted by new inbound message", "key", key)
			return
		}
		slog.Error("Agent delivery failed", "key", key, "error", err)
	}
}

// beginDelivery registers a cancelable context for the conversation's
// delivery, replacing (and canceling) any previous one.
func (a *Agent) beginDelivery(key string) context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cancel, ok := a.deliveries[key]; ok {
		cancel()
	}
	parent := a.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	a.deliveries[key] = cancel
	return ctx
}

func (a *Agent) endDelivery(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cancel, ok := a.deliveries[key]; ok {
		cancel()
		delete(a.deliveries, key)
	}
}

// abortDelivery cancels the conversation's in-flight delivery, if any.
func (a *Agent) abortDelivery(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cancel, ok := a.deliveries[key]; ok {
		cancel()
		delete(a.deliveries, key)
	}
}

// transcriptContent renders an inbound event for the persisted transcript.
func transcriptContent(event models.InboundEvent) string {
	if event.TextContent != "" {
		return event.TextContent
	}
	switch event.Kind {
	case models.FragmentKindImage:
		return "[imagem]"
	case models.FragmentKindAudio:
		return "[áudio]"
	case models.FragmentKindDocument:
		return "[documento]"
	}
	return ""
}
