package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/twiliowhatsapp"
)

// TwilioService implements Service using the Twilio REST API. Inbound events
// arrive through the webhook endpoint rather than a persistent connection, so
// the HTTP layer feeds them in via PublishInbound.
type TwilioService struct {
	client  *twiliowhatsapp.Client
	inbound chan models.InboundEvent
	done    chan struct{}
}

// NewTwilioService creates a TwilioService wrapping the given client.
func NewTwilioService(client *twiliowhatsapp.Client) *TwilioService {
	return &TwilioService{
		client:  client,
		inbound: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient reduces a phone number to the bare digit
// conversation key.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalize(recipient)
}

// SendMessage sends a text message through the Twilio API.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	return s.client.SendText(ctx, to, body)
}

// SendComposing is best-effort; Twilio has no chat presence API.
func (s *TwilioService) SendComposing(ctx context.Context, to string, duration time.Duration) error {
	return s.client.SendComposing(ctx, to, duration)
}

// Start is a no-op; inbound events are webhook-driven.
func (s *TwilioService) Start(ctx context.Context) error {
	slog.Debug("TwilioService Start invoked (webhook-driven, nothing to poll)")
	return nil
}

// Stop stops accepting inbound events. The channel itself stays open so a
// webhook handler mid-publish never hits a closed channel.
func (s *TwilioService) Stop() error {
	close(s.done)
	return nil
}

// Inbound returns the channel of incoming message events.
func (s *TwilioService) Inbound() <-chan models.InboundEvent {
	return s.inbound
}

// PublishInbound feeds a webhook-received event into the inbound stream.
// Non-blocking: events are dropped with a warning when the pipeline is
// saturated.
func (s *TwilioService) PublishInbound(event models.InboundEvent) {
	select {
	case s.inbound <- event:
	case <-s.done:
		slog.Debug("TwilioService stopped, dropping event", "from", event.ConversationKey)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService inbound channel blocked, dropping event", "from", event.ConversationKey)
	}
}
