// Package models defines the core data structures shared across the SDR agent.
//
// It includes inbound message fragments, flush units handed to the
// qualification machine, reply plans, and outbound fragment plans consumed by
// the delivery scheduler.
package models

import "time"

// FragmentKind identifies the type of an inbound message unit.
type FragmentKind string

const (
	FragmentKindText     FragmentKind = "text"
	FragmentKindImage    FragmentKind = "image"
	FragmentKindAudio    FragmentKind = "audio"
	FragmentKindDocument FragmentKind = "document"
)

// InboundEvent is one validated, deduplicated message event received from the
// channel webhook or the WhatsApp event stream. Authentication and media
// download are assumed to have happened upstream.
type InboundEvent struct {
	ConversationKey   string       `json:"conversation_key"`
	Kind              FragmentKind `json:"kind"`
	TextContent       string       `json:"text_content,omitempty"`
	MediaReference    string       `json:"media_reference,omitempty"`
	ProviderMessageID string       `json:"provider_message_id,omitempty"`
	ReceivedAt        time.Time    `json:"received_at"`
}

// InboundFragment is one received message unit inside a conversation buffer.
// SequenceID is assigned by the buffer manager on arrival and is monotonically
// increasing per conversation. Immutable once created.
type InboundFragment struct {
	ConversationKey   string       `json:"conversation_key"`
	SequenceID        int64        `json:"sequence_id"`
	Kind              FragmentKind `json:"kind"`
	TextContent       string       `json:"text_content,omitempty"`
	MediaReference    string       `json:"media_reference,omitempty"`
	ProviderMessageID string       `json:"provider_message_id,omitempty"`
	ReceivedAt        time.Time    `json:"received_at"`
}

// Attachment describes a non-text fragment passed alongside the concatenated
// text so the response generator can reason about it.
type Attachment struct {
	Kind      FragmentKind `json:"kind"`
	Reference string       `json:"reference,omitempty"`
	Caption   string       `json:"caption,omitempty"`
}

// FlushUnit is the unit of work handed from the debounce buffer to the
// qualification state machine: all fragments of one burst, in sequence order,
// with text fragments concatenated by single newlines.
type FlushUnit struct {
	ConversationKey string            `json:"conversation_key"`
	Text            string            `json:"text"`
	Attachments     []Attachment      `json:"attachments,omitempty"`
	Fragments       []InboundFragment `json:"fragments"`
	FlushedAt       time.Time         `json:"flushed_at"`
}

// IsEmpty reports whether the unit carries no content worth processing.
func (u FlushUnit) IsEmpty() bool {
	return u.Text == "" && len(u.Attachments) == 0
}

// ReplyPlan is the outcome of one qualification advance: the generated reply
// text and the stage the conversation is moving to. Ephemeral, consumed by
// the chunking engine.
type ReplyPlan struct {
	ReplyText   string `json:"reply_text"`
	TargetStage Stage  `json:"target_stage"`
}

// MessageFragment is one outbound chunk of a reply with its humanization
// delays: PreDelay is the "thinking" pause before the composing indicator,
// TypingDelay is the size-proportional typing simulation.
type MessageFragment struct {
	Text        string        `json:"text"`
	PreDelay    time.Duration `json:"pre_delay"`
	TypingDelay time.Duration `json:"typing_delay"`
}

// FragmentPlan is the ordered outbound fragment sequence for one ReplyPlan.
// Single-owner: produced by the chunker, consumed once by the delivery
// scheduler, then discarded.
type FragmentPlan struct {
	ConversationKey string            `json:"conversation_key"`
	Stage           Stage             `json:"stage"`
	Fragments       []MessageFragment `json:"fragments"`
}

// ConversationMessage is a single turn in the persisted transcript.
type ConversationMessage struct {
	ConversationKey string    `json:"conversation_key"`
	Role            string    `json:"role"` // "user" or "assistant"
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
}

// ArchivedConversation records a finished conversation and its outcome so it
// can be handed to the CRM and audited later.
type ArchivedConversation struct {
	ConversationKey string                `json:"conversation_key"`
	Outcome         string                `json:"outcome"`
	Profile         QualificationProfile  `json:"profile"`
	Messages        []ConversationMessage `json:"messages,omitempty"`
	ArchivedAt      time.Time             `json:"archived_at"`
}

// APIResponse is the standard envelope for HTTP API responses.
type APIResponse struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

// Success creates a success API response with an optional result payload.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: "ok", Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: "error", Error: message}
}
