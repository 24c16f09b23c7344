package testutil

import (
	"testing"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

func TestTextEvent(t *testing.T) {
	event := TextEvent("5581999990000", "oi")
	if event.ConversationKey != "5581999990000" || event.TextContent != "oi" {
		t.Errorf("event = %+v", event)
	}
	if event.Kind != models.FragmentKindText {
		t.Errorf("kind = %q, want text", event.Kind)
	}
	if event.ReceivedAt.IsZero() {
		t.Error("ReceivedAt should be set")
	}
}

func TestQualifiedProfilePassesGate(t *testing.T) {
	p := QualifiedProfile("5581999990000", 4500)
	if !p.SchedulingAllowed(4000) {
		t.Errorf("profile should pass the gate: missing %v", p.MissingGateFacts(4000))
	}
}

func TestMustMarshalRoundTrip(t *testing.T) {
	in := models.NewQualificationProfile("5581999990000")
	data := MustMarshalJSON(t, in)
	var out models.QualificationProfile
	MustUnmarshalJSON(t, data, &out)
	if out.ConversationKey != in.ConversationKey {
		t.Errorf("round trip key = %q, want %q", out.ConversationKey, in.ConversationKey)
	}
}
