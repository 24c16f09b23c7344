// Package messaging defines the pluggable message transport abstraction used
// by the agent: it delivers outbound fragments and surfaces inbound events.
package messaging

import (
	"context"
	"time"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/buffer"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

// Service defines a pluggable message transport abstraction.
// It supports sending text and the composing indicator, and provides a
// channel of inbound events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier into a conversation key.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendComposing signals the typing indicator for the recipient, when the
	// transport supports it.
	SendComposing(ctx context.Context, to string, duration time.Duration) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns a channel of incoming message events.
	Inbound() <-chan models.InboundEvent
}

// canonicalize is the shared recipient validation for all transports: the
// conversation key is the bare digit string of the phone number.
func canonicalize(recipient string) (string, error) {
	return buffer.CanonicalizeKey(recipient)
}
