// Package delivery implements the outbound delivery scheduler.
//
// It walks an ordered fragment plan, sleeping for each fragment's thinking
// and typing delays, signaling a best-effort composing indicator, and
// invoking the channel send primitive. Delivery for a conversation can be
// canceled between fragments when a new inbound burst supersedes the reply;
// a fragment mid-send is never interrupted and already-sent fragments are
// not retracted.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

// Sender is the narrow channel interface the scheduler depends on. SendText
// failures abort the remainder of the plan; composing-indicator failures are
// ignored.
type Sender interface {
	SendText(ctx context.Context, conversationKey, text string) error
	SendComposing(ctx context.Context, conversationKey string, duration time.Duration) error
}

// Scheduler delivers fragment plans in order.
type Scheduler struct {
	sender Sender
}

// NewScheduler creates a Scheduler that sends through the given Sender.
func NewScheduler(sender Sender) *Scheduler {
	return &Scheduler{sender: sender}
}

// Deliver consumes one fragment plan in order. It returns
// models.ErrDeliveryAborted if ctx is canceled before the plan completes;
// the undelivered remainder is discarded, never queued.
func (s *Scheduler) Deliver(ctx context.Context, plan models.FragmentPlan) error {
	key := plan.ConversationKey
	slog.Debug("Delivery starting", "key", key, "fragments", len(plan.Fragments), "stage", plan.Stage)

	for i, fragment := range plan.Fragments {
		if err := sleepCtx(ctx, fragment.PreDelay); err != nil {
			slog.Debug("Delivery aborted during thinking pause", "key", key, "fragment", i)
			return fmt.Errorf("%w: %d of %d fragments sent", models.ErrDeliveryAborted, i, len(plan.Fragments))
		}

		// Composing indicator is best-effort; a failure never blocks the send.
		if err := s.sender.SendComposing(ctx, key, fragment.TypingDelay); err != nil && !errors.Is(err, context.Canceled) {
			slog.Debug("Delivery composing indicator failed", "key", key, "error", err)
		}

		if err := sleepCtx(ctx, fragment.TypingDelay); err != nil {
			slog.Debug("Delivery aborted during typing simulation", "key", key, "fragment", i)
			return fmt.Errorf("%w: %d of %d fragments sent", models.ErrDeliveryAborted, i, len(plan.Fragments))
		}

		// The fragment currently mid-send always completes; cancellation is
		// only honored at the sleep points between fragments.
		if err := s.sender.SendText(context.WithoutCancel(ctx), key, fragment.Text); err != nil {
			slog.Error("Delivery send failed", "key", key, "fragment", i, "error", err)
			return fmt.Errorf("send fragment %d: %w", i, err)
		}
		slog.Debug("Delivery fragment sent", "key", key, "fragment", i, "chars", len(fragment.Text))
	}

	slog.Info("Delivery completed", "key", key, "fragments", len(plan.Fragments))
	return nil
}

// sleepCtx sleeps for d or until ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
