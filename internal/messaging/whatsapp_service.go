package messaging

import (
	"context"
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/whatsapp"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	sender   whatsapp.Sender
	waClient *whatsapp.Client // Access to underlying client for event handling
	inbound  chan models.InboundEvent
	done     chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(sender whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		sender:  sender,
		inbound: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}

	// If the sender is a full Client (not just an interface), store it for event handling
	if waClient, ok := sender.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface sender (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient reduces a phone number to the bare digit
// conversation key.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalize(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing. The inbound channel is left open: the
// whatsmeow event handler stays registered and may still be mid-send, so
// late events are dropped via the done channel instead.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	return nil
}

// SendMessage sends a text message through the WhatsApp client.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.sender.SendText(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendComposing signals the typing indicator through the WhatsApp client.
func (s *WhatsAppService) SendComposing(ctx context.Context, to string, duration time.Duration) error {
	return s.sender.SendComposing(ctx, to, duration)
}

// Inbound returns the channel of incoming message events.
func (s *WhatsAppService) Inbound() <-chan models.InboundEvent {
	return s.inbound
}

// handleEvents registers the whatsmeow event handler and feeds message events
// into the inbound channel.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			// Ignore other event types
		}
	})

	slog.Debug("WhatsAppService event handler registered")

	// Keep handler running until context is cancelled
	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage maps a whatsmeow message event to an InboundEvent.
// Media messages are forwarded with their kind and caption so the agent can
// acknowledge them even without downloading the payload.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	event := models.InboundEvent{
		ProviderMessageID: evt.Info.ID,
		ReceivedAt:        evt.Info.Timestamp,
	}

	msg := evt.Message
	switch {
	case msg.Conversation != nil:
		event.Kind = models.FragmentKindText
		event.TextContent = *msg.Conversation
	case msg.ExtendedTextMessage != nil && msg.ExtendedTextMessage.Text != nil:
		event.Kind = models.FragmentKindText
		event.TextContent = *msg.ExtendedTextMessage.Text
	case msg.ImageMessage != nil:
		event.Kind = models.FragmentKindImage
		if msg.ImageMessage.Caption != nil {
			event.TextContent = *msg.ImageMessage.Caption
		}
		if msg.ImageMessage.URL != nil {
			event.MediaReference = *msg.ImageMessage.URL
		}
	case msg.AudioMessage != nil:
		event.Kind = models.FragmentKindAudio
		if msg.AudioMessage.URL != nil {
			event.MediaReference = *msg.AudioMessage.URL
		}
	case msg.DocumentMessage != nil:
		event.Kind = models.FragmentKindDocument
		if msg.DocumentMessage.Caption != nil {
			event.TextContent = *msg.DocumentMessage.Caption
		}
		if msg.DocumentMessage.URL != nil {
			event.MediaReference = *msg.DocumentMessage.URL
		}
	default:
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", evt.Info.Sender.String())
		return
	}

	key, err := canonicalize(evt.Info.Sender.User)
	if err != nil {
		slog.Warn("WhatsAppService dropping message with invalid sender", "sender", evt.Info.Sender.String(), "error", err)
		return
	}
	event.ConversationKey = key

	select {
	case s.inbound <- event:
		slog.Debug("WhatsAppService incoming message forwarded", "from", event.ConversationKey, "kind", event.Kind)
	case <-s.done:
		slog.Debug("WhatsAppService stopped, dropping message", "from", event.ConversationKey)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService inbound channel blocked, dropping message", "from", event.ConversationKey, "timeout", DefaultChannelTimeout)
	}
}
