package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

// MockService implements Service in memory for tests: sent messages are
// recorded, and inbound events are injected with PublishInbound.
type MockService struct {
	mu        sync.Mutex
	sent      []SentMessage
	composing []string
	inbound   chan models.InboundEvent
	sendErr   error
}

// SentMessage records one outbound message.
type SentMessage struct {
	To   string
	Body string
}

// NewMockService creates an empty MockService.
func NewMockService() *MockService {
	return &MockService{
		inbound: make(chan models.InboundEvent, DefaultChannelBufferSize),
	}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalize(recipient)
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockService) SendComposing(ctx context.Context, to string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.composing = append(m.composing, to)
	return nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error {
	close(m.inbound)
	return nil
}

func (m *MockService) Inbound() <-chan models.InboundEvent {
	return m.inbound
}

// PublishInbound injects an inbound event, as the webhook or event stream
// would.
func (m *MockService) PublishInbound(event models.InboundEvent) {
	m.inbound <- event
}

// SetSendError makes subsequent SendMessage calls fail with err.
func (m *MockService) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SentMessages returns a copy of the recorded outbound messages.
func (m *MockService) SentMessages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// ComposingSignals returns the recipients that received a composing signal.
func (m *MockService) ComposingSignals() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.composing...)
}
