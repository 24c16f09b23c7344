package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

// stubAgent records calls and serves canned lookups.
type stubAgent struct {
	events   []models.InboundEvent
	flushed  []string
	profiles map[string]*models.QualificationProfile
	history  map[string][]models.ConversationMessage
}

func newStubAgent() *stubAgent {
	return &stubAgent{
		profiles: make(map[string]*models.QualificationProfile),
		history:  make(map[string][]models.ConversationMessage),
	}
}

func (s *stubAgent) HandleInbound(event models.InboundEvent) error {
	if len(event.ConversationKey) < 8 {
		return models.ErrInvalidConversationKey
	}
	s.events = append(s.events, event)
	return nil
}

func (s *stubAgent) Flush(key string) error {
	s.flushed = append(s.flushed, key)
	return nil
}

func (s *stubAgent) Profile(key string) (*models.QualificationProfile, error) {
	return s.profiles[key], nil
}

func (s *stubAgent) History(key string) ([]models.ConversationMessage, error) {
	return s.history[key], nil
}

func (s *stubAgent) ActiveConversations() int { return len(s.events) }

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp
}

func TestReceiveHandlerAcceptsEvent(t *testing.T) {
	agent := newStubAgent()
	server := NewServer(agent)

	body := `{"conversation_key":"5581999990000","text_content":"oi, tudo bem?"}`
	req := httptest.NewRequest(http.MethodPost, "/receive", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	if len(agent.events) != 1 {
		t.Fatalf("events recorded = %d, want 1", len(agent.events))
	}
	got := agent.events[0]
	if got.ConversationKey != "5581999990000" || got.TextContent != "oi, tudo bem?" {
		t.Errorf("event = %+v", got)
	}
	if got.Kind != models.FragmentKindText {
		t.Errorf("kind defaulted to %q, want text", got.Kind)
	}
	if !strings.HasPrefix(got.ProviderMessageID, "evt_") {
		t.Errorf("provider message ID = %q, want a generated evt_ identifier", got.ProviderMessageID)
	}
}

func TestReceiveHandlerKeepsProviderMessageID(t *testing.T) {
	agent := newStubAgent()
	server := NewServer(agent)

	body := `{"conversation_key":"5581999990000","text_content":"oi","provider_message_id":"wamid.123"}`
	req := httptest.NewRequest(http.MethodPost, "/receive", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if got := agent.events[0].ProviderMessageID; got != "wamid.123" {
		t.Errorf("provider message ID = %q, want the one the webhook supplied", got)
	}
}

func TestReceiveHandlerRejectsBadRequests(t *testing.T) {
	agent := newStubAgent()
	server := NewServer(agent)

	cases := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"malformed json", http.MethodPost, "{", http.StatusBadRequest},
		{"invalid key", http.MethodPost, `{"conversation_key":"abc"}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(c.method, "/receive", strings.NewReader(c.body))
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)
			if rec.Code != c.want {
				t.Errorf("status = %d, want %d", rec.Code, c.want)
			}
			resp := decodeResponse(t, rec)
			if resp.Status != "error" {
				t.Errorf("response status = %q, want error", resp.Status)
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	agent := newStubAgent()
	server := NewServer(agent)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "ok" {
		t.Errorf("response status = %q, want ok", resp.Status)
	}
}

func TestConversationProfileLookup(t *testing.T) {
	agent := newStubAgent()
	profile := models.NewQualificationProfile("5581999990000")
	profile.Stage = models.StageQualifying
	agent.profiles["5581999990000"] = profile
	server := NewServer(agent)

	req := httptest.NewRequest(http.MethodGet, "/conversations/5581999990000", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	// Unknown conversation
	req = httptest.NewRequest(http.MethodGet, "/conversations/5511900000000", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown conversation status = %d, want 404", rec.Code)
	}
}

func TestConversationHistoryAndFlush(t *testing.T) {
	agent := newStubAgent()
	agent.history["5581999990000"] = []models.ConversationMessage{
		{ConversationKey: "5581999990000", Role: "user", Content: "oi"},
	}
	server := NewServer(agent)

	req := httptest.NewRequest(http.MethodGet, "/conversations/5581999990000/history", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/conversations/5581999990000/flush", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("flush status = %d, want 202", rec.Code)
	}
	if len(agent.flushed) != 1 || agent.flushed[0] != "5581999990000" {
		t.Errorf("flushed = %v", agent.flushed)
	}

	// Flush with GET is not allowed.
	req = httptest.NewRequest(http.MethodGet, "/conversations/5581999990000/flush", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("flush via GET status = %d, want 405", rec.Code)
	}
}
