// Package qualify implements the lead qualification state machine.
//
// The machine consumes one flushed unit at a time per conversation, updates
// the qualification profile, decides the next stage in code, and asks the
// external generator only to phrase the reply for the decided transition.
// The scheduling gate is enforced here and can never be bypassed by
// generator output.
package qualify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

// Default tunables for the qualification flow.
const (
	// DefaultBillThreshold is the minimum monthly bill value, in BRL, for a
	// lead to qualify.
	DefaultBillThreshold = 4000
	// DefaultStallLimit is how many consecutive advances may pass without
	// progress before the conversation is abandoned.
	DefaultStallLimit = 3
	// DefaultGenerationTimeout is the hard cap on one generator call.
	DefaultGenerationTimeout = 25 * time.Second
	// DefaultGenerationFailureLimit is how many consecutive generator
	// failures are papered over with the hold-on filler before the lead is
	// asked to resend.
	DefaultGenerationFailureLimit = 3
	// DefaultHistoryLimit is how many transcript messages are handed to the
	// generator as context.
	DefaultHistoryLimit = 20
)

// Fallback copy used when the generator is unavailable.
const (
	retryReply   = "Só um instante, estou verificando uma informação aqui e já te respondo! 🙏"
	resendReply  = "Desculpa, estou com uma instabilidade por aqui. 😔 Pode me reenviar sua última mensagem, por favor?"
	closingReply = "Tudo bem! Vou deixar nosso contato por aqui. Qualquer coisa é só chamar. 😊"
)

// ConversationStore persists qualification profiles and exposes the
// transcript used as generation context. Implemented by the store package.
type ConversationStore interface {
	GetProfile(conversationKey string) (*models.QualificationProfile, error)
	SaveProfile(profile *models.QualificationProfile) error
	GetHistory(conversationKey string) ([]models.ConversationMessage, error)
}

// GenerationRequest carries everything the phrasing generator may use. The
// target stage and the question to ask are already decided; the generator has
// no say in the transition.
type GenerationRequest struct {
	Profile     *models.QualificationProfile
	FlushedText string
	Attachments []models.Attachment
	TargetStage models.Stage
	MissingFact string
	// History is the persisted transcript before the current burst, oldest
	// first, already trimmed to the configured limit.
	History []models.ConversationMessage
}

// Generator is the external response-generation boundary. Treated as opaque
// and possibly slow or unreliable.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// CRM is the fire-and-forget calendar/CRM collaborator boundary.
type CRM interface {
	Archive(ctx context.Context, profile *models.QualificationProfile, outcome string) error
	RequestScheduling(ctx context.Context, profile *models.QualificationProfile) error
}

// Opts holds configuration for the Machine.
type Opts struct {
	BillThreshold          float64
	StallLimit             int
	GenerationTimeout      time.Duration
	GenerationFailureLimit int
	HistoryLimit           int
}

// Option defines a configuration option for the Machine.
type Option func(*Opts)

// WithBillThreshold sets the qualifying bill value.
func WithBillThreshold(v float64) Option {
	return func(o *Opts) { o.BillThreshold = v }
}

// WithStallLimit sets the no-progress limit before abandoning.
func WithStallLimit(n int) Option {
	return func(o *Opts) { o.StallLimit = n }
}

// WithGenerationTimeout sets the hard generator timeout.
func WithGenerationTimeout(d time.Duration) Option {
	return func(o *Opts) { o.GenerationTimeout = d }
}

// WithGenerationFailureLimit sets how many consecutive generator failures
// are tolerated before the lead is asked to resend.
func WithGenerationFailureLimit(n int) Option {
	return func(o *Opts) { o.GenerationFailureLimit = n }
}

// WithHistoryLimit caps how many transcript messages are passed to the
// generator.
func WithHistoryLimit(n int) Option {
	return func(o *Opts) { o.HistoryLimit = n }
}

// Machine is the qualification state machine. Advance is serialized per
// conversation key by the buffer manager's single-flush-in-flight discipline;
// the machine itself holds no per-key locks.
type Machine struct {
	profiles  ConversationStore
	generator Generator
	crm       CRM
	opts      Opts
}

// NewMachine creates a Machine with the given collaborators.
func NewMachine(profiles ConversationStore, generator Generator, crm CRM, opts ...Option) *Machine {
	cfg := Opts{
		BillThreshold:          DefaultBillThreshold,
		StallLimit:             DefaultStallLimit,
		GenerationTimeout:      DefaultGenerationTimeout,
		GenerationFailureLimit: DefaultGenerationFailureLimit,
		HistoryLimit:           DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Creating qualification Machine", "bill_threshold", cfg.BillThreshold, "stall_limit", cfg.StallLimit)
	return &Machine{profiles: profiles, generator: generator, crm: crm, opts: cfg}
}

// Advance consumes one flushed unit: it updates the profile with extracted
// facts, decides the next stage, and asks the generator to phrase the reply.
// On generator failure stage and facts are left unchanged, the returned
// error wraps models.ErrGenerationUnavailable, and the returned plan carries
// a generic retry reply for the current stage; only a consecutive-failure
// count is persisted, escalating to a resend request at the limit.
//
// An empty unit is a no-op: no reply plan, no state transition.
func (m *Machine) Advance(ctx context.Context, unit models.FlushUnit) (models.ReplyPlan, error) {
	if unit.IsEmpty() {
		slog.Debug("Qualify Advance skipped empty unit", "key", unit.ConversationKey)
		return models.ReplyPlan{}, nil
	}

	profile, err := m.profiles.GetProfile(unit.ConversationKey)
	if err != nil {
		return models.ReplyPlan{}, fmt.Errorf("load profile for %s: %w", unit.ConversationKey, err)
	}
	if profile == nil {
		profile = models.NewQualificationProfile(unit.ConversationKey)
	}

	updated := profile.Clone()
	pending := m.pendingFact(updated)
	learned := extractFacts(updated, unit.Text, pending)
	target := m.decideStage(updated, unit.Text)

	// Progress accounting: learning a fact or moving stage resets the
	// stall counter.
	if learned == 0 && target == profile.Stage && !target.IsTerminal() {
		updated.AttemptsWithoutProgress++
	} else {
		updated.AttemptsWithoutProgress = 0
	}
	if updated.AttemptsWithoutProgress > m.opts.StallLimit && !target.IsTerminal() {
		slog.Info("Qualify stalling limit reached, abandoning", "key", unit.ConversationKey, "attempts", updated.AttemptsWithoutProgress)
		target = models.StageAbandoned
	}

	// The gate is re-checked last so no code path above can smuggle a
	// scheduling transition past it.
	if (target == models.StageScheduling || target == models.StageScheduled) &&
		!updated.SchedulingAllowed(m.opts.BillThreshold) {
		target = m.questionStageFor(m.pendingFact(updated))
		slog.Warn("Qualify scheduling blocked by gate", "key", unit.ConversationKey, "missing", updated.MissingGateFacts(m.opts.BillThreshold), "redirected_to", target)
	}

	replyText, genErr := m.generate(ctx, GenerationRequest{
		Profile:     updated,
		FlushedText: unit.Text,
		Attachments: unit.Attachments,
		TargetStage: target,
		MissingFact: m.pendingFact(updated),
		History:     m.loadHistory(unit.ConversationKey),
	})
	if genErr != nil {
		return m.handleGenerationFailure(unit.ConversationKey, profile, genErr)
	}
	if replyText == "" && target == models.StageAbandoned {
		replyText = closingReply
	}

	updated.Stage = target
	updated.GenerationFailures = 0
	updated.UpdatedAt = time.Now()
	if err := m.profiles.SaveProfile(updated); err != nil {
		slog.Error("Qualify profile save failed, state not advanced", "key", unit.ConversationKey, "error", err)
		return models.ReplyPlan{ReplyText: retryReply, TargetStage: profile.Stage},
			fmt.Errorf("save profile for %s: %w", unit.ConversationKey, err)
	}

	if target != profile.Stage {
		slog.Info("Qualify stage transition", "key", unit.ConversationKey, "from", profile.Stage, "to", target)
	}
	m.fireSideEffects(unit.ConversationKey, profile.Stage, target, updated)

	return models.ReplyPlan{ReplyText: replyText, TargetStage: target}, nil
}

// generate calls the external generator under the hard timeout.
func (m *Machine) generate(ctx context.Context, req GenerationRequest) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, m.opts.GenerationTimeout)
	defer cancel()
	return m.generator.Generate(genCtx, req)
}

// loadHistory returns the newest HistoryLimit transcript messages for the
// conversation, minus the trailing user messages that make up the burst
// being processed right now. A lookup failure degrades to no history.
func (m *Machine) loadHistory(key string) []models.ConversationMessage {
	history, err := m.profiles.GetHistory(key)
	if err != nil {
		slog.Warn("Qualify history lookup failed, generating without context", "key", key, "error", err)
		return nil
	}
	for len(history) > 0 && history[len(history)-1].Role == "user" {
		history = history[:len(history)-1]
	}
	if m.opts.HistoryLimit > 0 && len(history) > m.opts.HistoryLimit {
		history = history[len(history)-m.opts.HistoryLimit:]
	}
	return history
}

// handleGenerationFailure leaves stage and facts untouched but persists a
// consecutive-failure count on the profile. Up to the limit the lead gets
// the hold-on filler; at the limit the lead is asked to resend and the
// count restarts.
func (m *Machine) handleGenerationFailure(key string, profile *models.QualificationProfile, genErr error) (models.ReplyPlan, error) {
	failed := profile.Clone()
	failed.GenerationFailures++
	failures := failed.GenerationFailures
	reply := retryReply
	if failures >= m.opts.GenerationFailureLimit {
		reply = resendReply
		failed.GenerationFailures = 0
	}
	failed.UpdatedAt = time.Now()
	if err := m.profiles.SaveProfile(failed); err != nil {
		slog.Error("Qualify failure count not persisted", "key", key, "error", err)
	}
	slog.Error("Qualify generation unavailable, stage unchanged", "key", key, "consecutive_failures", failures, "error", genErr)
	return models.ReplyPlan{ReplyText: reply, TargetStage: profile.Stage},
		fmt.Errorf("%w: %v", models.ErrGenerationUnavailable, genErr)
}

// decideStage computes the next stage from the updated profile and the raw
// text. Transitions are decided entirely here.
func (m *Machine) decideStage(p *models.QualificationProfile, text string) models.Stage {
	if p.Stage.IsTerminal() {
		return p.Stage
	}

	// Hard disqualifiers first.
	if p.HasActiveContract != nil && *p.HasActiveContract {
		return models.StageDisqualified
	}
	if p.BillValue > 0 && p.BillValue < m.opts.BillThreshold {
		return models.StageDisqualified
	}
	if p.InterestConfirmed != nil && !*p.InterestConfirmed {
		if p.Stage == models.StageHandlingObjection {
			return models.StageDisqualified
		}
		return models.StageHandlingObjection
	}

	// An objection mid-pitch diverts before the question ladder.
	if hasNegation(text) && !hasAffirmation(text) &&
		(p.Stage == models.StagePresentingSolution || p.Stage == models.StageScheduling) {
		return models.StageHandlingObjection
	}

	if missing := m.pendingFact(p); missing != "" {
		return m.questionStageFor(missing)
	}

	// Every gating fact holds.
	switch p.Stage {
	case models.StageScheduling:
		if hasAffirmation(text) && !hasNegation(text) {
			return models.StageScheduled
		}
		return models.StageScheduling
	case models.StagePresentingSolution, models.StageHandlingObjection:
		return models.StageScheduling
	default:
		return models.StagePresentingSolution
	}
}

// pendingFact returns the gating fact the conversation should ask about next,
// or "" when the gate passes.
func (m *Machine) pendingFact(p *models.QualificationProfile) string {
	missing := p.MissingGateFacts(m.opts.BillThreshold)
	if len(missing) == 0 {
		return ""
	}
	return missing[0]
}

// questionStageFor maps a missing gating fact to the stage that asks about it.
func (m *Machine) questionStageFor(fact string) models.Stage {
	switch fact {
	case models.FactInterestConfirmed:
		return models.StageIdentifyingNeed
	case models.FactBillValue:
		return models.StageQualifying
	case models.FactHasDecisionMaker, models.FactHasExistingPlant, models.FactHasActiveContract:
		return models.StageDiscovery
	default:
		return models.StagePresentingSolution
	}
}

// fireSideEffects emits CRM events for terminal transitions and calendar
// requests when scheduling completes. Fire-and-forget: failures are logged
// and never roll back conversational state.
func (m *Machine) fireSideEffects(key string, from, to models.Stage, profile *models.QualificationProfile) {
	if m.crm == nil || from == to {
		return
	}

	if to == models.StageScheduled {
		go func() {
			if err := m.crm.RequestScheduling(context.Background(), profile); err != nil {
				slog.Error("Qualify scheduling request failed", "key", key, "error", err)
			}
		}()
	}
	if to.IsTerminal() {
		outcome := to.Outcome()
		go func() {
			if err := m.crm.Archive(context.Background(), profile, outcome); err != nil {
				slog.Error("Qualify archival failed", "key", key, "outcome", outcome, "error", fmt.Errorf("%w: %v", models.ErrArchivalFailed, err))
			}
		}()
	}
}
