package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/whatsapp"
)

func TestValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewMockService()
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+55 (81) 99999-0000", "5581999990000", false},
		{"5581999990000", "5581999990000", false},
		{"whatsapp:+5581999990000", "5581999990000", false},
		{"", "", true},
		{"abc", "", true},
		{"123", "", true},
	}
	for _, c := range cases {
		got, err := svc.ValidateAndCanonicalizeRecipient(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ValidateAndCanonicalizeRecipient(%q) expected error", c.in)
			}
			if !errors.Is(err, models.ErrInvalidConversationKey) {
				t.Errorf("ValidateAndCanonicalizeRecipient(%q) error = %v, want ErrInvalidConversationKey", c.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ValidateAndCanonicalizeRecipient(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMockServiceRoundTrip(t *testing.T) {
	svc := NewMockService()
	ctx := context.Background()

	if err := svc.SendMessage(ctx, "5581999990000", "Oi!"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := svc.SendComposing(ctx, "5581999990000", time.Second); err != nil {
		t.Fatalf("SendComposing: %v", err)
	}

	sent := svc.SentMessages()
	if len(sent) != 1 || sent[0].Body != "Oi!" {
		t.Errorf("sent messages = %+v, want one 'Oi!'", sent)
	}
	if got := svc.ComposingSignals(); len(got) != 1 {
		t.Errorf("composing signals = %v, want one", got)
	}

	event := models.InboundEvent{
		ConversationKey: "5581999990000",
		Kind:            models.FragmentKindText,
		TextContent:     "quero saber mais",
		ReceivedAt:      time.Now(),
	}
	svc.PublishInbound(event)
	select {
	case got := <-svc.Inbound():
		if got.TextContent != event.TextContent {
			t.Errorf("inbound text = %q, want %q", got.TextContent, event.TextContent)
		}
	case <-time.After(time.Second):
		t.Fatal("inbound event never arrived")
	}
}

func TestMockServiceSendError(t *testing.T) {
	svc := NewMockService()
	wantErr := errors.New("transport down")
	svc.SetSendError(wantErr)
	if err := svc.SendMessage(context.Background(), "5581999990000", "oi"); !errors.Is(err, wantErr) {
		t.Fatalf("SendMessage error = %v, want %v", err, wantErr)
	}
	if got := svc.SentMessages(); len(got) != 0 {
		t.Errorf("no message should be recorded on error, got %+v", got)
	}
}

func TestWhatsAppServiceWithMockSender(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.SendMessage(ctx, "5581999990000", "Bom dia!"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := svc.SendComposing(ctx, "5581999990000", 2*time.Second); err != nil {
		t.Fatalf("SendComposing: %v", err)
	}

	if got := mock.SentMessages(); len(got) != 1 || got[0] != "Bom dia!" {
		t.Errorf("mock sent = %v, want ['Bom dia!']", got)
	}
	if got := mock.ComposingCount(); got != 1 {
		t.Errorf("composing count = %d, want 1", got)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestWhatsAppServiceInboundSafeAfterStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The whatsmeow handler stays registered after Stop; a late event must
	// be absorbed, not panic into a closed channel.
	text := "cheguei tarde"
	svc.handleIncomingMessage(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: types.NewJID("5581999990000", "s.whatsapp.net")},
			ID:            "late-1",
			Timestamp:     time.Now(),
		},
		Message: &waE2E.Message{Conversation: &text},
	})
}

func TestTwilioServicePublishInboundSafeAfterStop(t *testing.T) {
	svc := NewTwilioService(nil)
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	svc.PublishInbound(models.InboundEvent{
		ConversationKey: "5511988887777",
		Kind:            models.FragmentKindText,
		TextContent:     "ainda estou aqui?",
	})
}

func TestTwilioServicePublishInbound(t *testing.T) {
	svc := NewTwilioService(nil)
	event := models.InboundEvent{
		ConversationKey: "5511988887777",
		Kind:            models.FragmentKindText,
		TextContent:     "minha conta vem R$ 5.000",
	}
	svc.PublishInbound(event)
	select {
	case got := <-svc.Inbound():
		if got.ConversationKey != event.ConversationKey {
			t.Errorf("inbound key = %q, want %q", got.ConversationKey, event.ConversationKey)
		}
	case <-time.After(time.Second):
		t.Fatal("inbound event never arrived")
	}
}
