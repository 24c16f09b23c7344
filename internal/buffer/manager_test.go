package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

// flushRecorder collects flushed units and optionally blocks each flush until
// released, to simulate a slow downstream pipeline.
type flushRecorder struct {
	mu      sync.Mutex
	units   []models.FlushUnit
	flushed chan models.FlushUnit
	release chan struct{}
}

func newFlushRecorder(blocking bool) *flushRecorder {
	r := &flushRecorder{flushed: make(chan models.FlushUnit, 16)}
	if blocking {
		r.release = make(chan struct{})
	}
	return r
}

func (r *flushRecorder) flush(ctx context.Context, unit models.FlushUnit) {
	r.mu.Lock()
	r.units = append(r.units, unit)
	r.mu.Unlock()
	r.flushed <- unit
	if r.release != nil {
		<-r.release
	}
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.units)
}

func (r *flushRecorder) waitForFlush(t *testing.T, timeout time.Duration) models.FlushUnit {
	t.Helper()
	select {
	case unit := <-r.flushed:
		return unit
	case <-time.After(timeout):
		t.Fatal("timed out waiting for flush")
		return models.FlushUnit{}
	}
}

func textEvent(key, text string) models.InboundEvent {
	return models.InboundEvent{
		ConversationKey: key,
		Kind:            models.FragmentKindText,
		TextContent:     text,
		ReceivedAt:      time.Now(),
	}
}

func TestBurstProducesSingleOrderedFlush(t *testing.T) {
	rec := newFlushRecorder(false)
	m := NewManager(rec.flush, WithDebounce(60*time.Millisecond))
	m.Start(context.Background())
	defer m.Stop()

	for _, text := range []string{"Oi", "queria saber", "sobre energia solar"} {
		if err := m.Append(textEvent("+55 11 99999-0000", text)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	unit := rec.waitForFlush(t, time.Second)
	if got, want := unit.Text, "Oi\nqueria saber\nsobre energia solar"; got != want {
		t.Errorf("flushed text = %q, want %q", got, want)
	}
	if len(unit.Fragments) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(unit.Fragments))
	}
	for i := 1; i < len(unit.Fragments); i++ {
		if unit.Fragments[i].SequenceID <= unit.Fragments[i-1].SequenceID {
			t.Errorf("fragments out of sequence order: %d then %d", unit.Fragments[i-1].SequenceID, unit.Fragments[i].SequenceID)
		}
	}

	// No second flush should arrive.
	time.Sleep(150 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("expected exactly one flush, got %d", rec.count())
	}
}

func TestSizeCapFlushesImmediately(t *testing.T) {
	rec := newFlushRecorder(false)
	m := NewManager(rec.flush, WithDebounce(time.Hour), WithMaxBufferSize(3))
	m.Start(context.Background())
	defer m.Stop()

	for i := 0; i < 3; i++ {
		if err := m.Append(textEvent("5511999990000", "msg")); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	unit := rec.waitForFlush(t, time.Second)
	if len(unit.Fragments) != 3 {
		t.Errorf("expected 3 fragments in capped flush, got %d", len(unit.Fragments))
	}
}

func TestSingleFlushInFlightPerKey(t *testing.T) {
	rec := newFlushRecorder(true)
	m := NewManager(rec.flush, WithDebounce(40*time.Millisecond))
	m.Start(context.Background())
	defer m.Stop()

	if err := m.Append(textEvent("5511999990000", "primeira")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	first := rec.waitForFlush(t, time.Second)
	if first.Text != "primeira" {
		t.Errorf("first flush text = %q", first.Text)
	}

	// While the first flush is draining, more fragments arrive and their
	// debounce timer expires. The flush must be deferred, not concurrent.
	if err := m.Append(textEvent("5511999990000", "segunda")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("expected deferred flush while first is draining, got %d flushes", rec.count())
	}

	// Release the first flush; the deferred one must fire immediately.
	rec.release <- struct{}{}
	second := rec.waitForFlush(t, time.Second)
	if second.Text != "segunda" {
		t.Errorf("second flush text = %q", second.Text)
	}
	rec.release <- struct{}{}

	if second.Fragments[0].SequenceID <= first.Fragments[0].SequenceID {
		t.Error("sequence IDs must stay monotonic across flushes")
	}
}

func TestInvalidConversationKeyRejected(t *testing.T) {
	rec := newFlushRecorder(false)
	m := NewManager(rec.flush)

	for _, key := range []string{"", "abc", "12", "12345678901234567890"} {
		err := m.Append(textEvent(key, "oi"))
		if !errors.Is(err, models.ErrInvalidConversationKey) {
			t.Errorf("key %q: expected ErrInvalidConversationKey, got %v", key, err)
		}
	}
	if m.ActiveConversations() != 0 {
		t.Error("rejected events must not create buffers")
	}
}

func TestFlushWithoutFragmentsIsNoop(t *testing.T) {
	rec := newFlushRecorder(false)
	m := NewManager(rec.flush, WithDebounce(time.Hour))

	if err := m.Flush("5511999990000"); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("empty flush must be a no-op, got %d flushes", rec.count())
	}
}

func TestAttachmentsPassedAlongsideText(t *testing.T) {
	rec := newFlushRecorder(false)
	m := NewManager(rec.flush, WithDebounce(40*time.Millisecond))
	m.Start(context.Background())
	defer m.Stop()

	if err := m.Append(models.InboundEvent{
		ConversationKey: "5511999990000",
		Kind:            models.FragmentKindImage,
		MediaReference:  "media/conta-de-luz.jpg",
		TextContent:     "minha conta",
		ReceivedAt:      time.Now(),
	}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	unit := rec.waitForFlush(t, time.Second)
	if len(unit.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(unit.Attachments))
	}
	att := unit.Attachments[0]
	if att.Kind != models.FragmentKindImage || att.Reference != "media/conta-de-luz.jpg" || att.Caption != "minha conta" {
		t.Errorf("unexpected attachment: %+v", att)
	}
	if unit.Text != "minha conta" {
		t.Errorf("caption should appear in concatenated text, got %q", unit.Text)
	}
}

func TestIndependentKeysFlushIndependently(t *testing.T) {
	rec := newFlushRecorder(false)
	m := NewManager(rec.flush, WithDebounce(40*time.Millisecond))
	m.Start(context.Background())
	defer m.Stop()

	if err := m.Append(textEvent("5511999990000", "lead um")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := m.Append(textEvent("5521988880000", "lead dois")); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		unit := rec.waitForFlush(t, time.Second)
		seen[unit.ConversationKey] = true
	}
	if !seen["5511999990000"] || !seen["5521988880000"] {
		t.Errorf("expected one flush per key, saw %v", seen)
	}
}

func TestCanonicalizeKey(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+55 (11) 99999-0000", "5511999990000", false},
		{"5511999990000", "5511999990000", false},
		{"whatsapp:+5511999990000", "5511999990000", false},
		{"", "", true},
		{"no-digits", "", true},
		{"123", "", true},
	}
	for _, tc := range cases {
		got, err := CanonicalizeKey(tc.in)
		if tc.wantErr {
			if !errors.Is(err, models.ErrInvalidConversationKey) {
				t.Errorf("CanonicalizeKey(%q) error = %v, want ErrInvalidConversationKey", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("CanonicalizeKey(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}
