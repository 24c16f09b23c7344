// Package models defines the per-conversation qualification profile.
package models

import "time"

// QualificationProfile is the long-lived record of what is known about one
// lead. Boolean facts are tri-state: nil means "not yet learned", and an
// unknown fact blocks the scheduling gate the same way a disqualifying value
// does. Mutated only by the qualification state machine, one flush at a time
// per conversation key.
type QualificationProfile struct {
	ConversationKey string `json:"conversation_key"`
	Stage           Stage  `json:"stage"`

	// Gating facts. BillValue is the monthly energy bill in the local
	// currency; zero means not yet learned.
	BillValue         float64 `json:"bill_value,omitempty"`
	HasDecisionMaker  *bool   `json:"has_decision_maker,omitempty"`
	HasExistingPlant  *bool   `json:"has_existing_plant,omitempty"`
	WantsNewPlant     *bool   `json:"wants_new_plant,omitempty"`
	HasActiveContract *bool   `json:"has_active_contract,omitempty"`
	InterestConfirmed *bool   `json:"interest_confirmed,omitempty"`

	AttemptsWithoutProgress int `json:"attempts_without_progress"`
	// GenerationFailures counts consecutive reply-generation failures; any
	// successful generation resets it.
	GenerationFailures int       `json:"generation_failures,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewQualificationProfile creates a fresh profile in the initial stage.
func NewQualificationProfile(conversationKey string) *QualificationProfile {
	now := time.Now()
	return &QualificationProfile{
		ConversationKey: conversationKey,
		Stage:           StageNew,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy of the profile so callers can stage mutations
// without touching the stored record until the advance succeeds.
func (p *QualificationProfile) Clone() *QualificationProfile {
	cp := *p
	cp.HasDecisionMaker = cloneBool(p.HasDecisionMaker)
	cp.HasExistingPlant = cloneBool(p.HasExistingPlant)
	cp.WantsNewPlant = cloneBool(p.WantsNewPlant)
	cp.HasActiveContract = cloneBool(p.HasActiveContract)
	cp.InterestConfirmed = cloneBool(p.InterestConfirmed)
	return &cp
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// BoolPtr returns a pointer to b. Convenience for building profiles.
func BoolPtr(b bool) *bool {
	return &b
}

// SchedulingAllowed reports whether every gating fact holds: bill value at or
// above the threshold, a decision maker confirmed for the meeting, no existing
// plant (or an explicit wish for an additional one), no active contract with
// another provider, and confirmed interest. This is the single gate that
// permits a transition into the scheduling stage.
func (p *QualificationProfile) SchedulingAllowed(billThreshold float64) bool {
	return len(p.MissingGateFacts(billThreshold)) == 0
}

// MissingGateFacts returns the names of the gating facts that are unknown or
// disqualifying, in the order they should be asked about. Empty means the
// scheduling gate passes.
func (p *QualificationProfile) MissingGateFacts(billThreshold float64) []string {
	var missing []string
	if p.InterestConfirmed == nil || !*p.InterestConfirmed {
		missing = append(missing, FactInterestConfirmed)
	}
	if p.BillValue < billThreshold {
		missing = append(missing, FactBillValue)
	}
	if p.HasDecisionMaker == nil || !*p.HasDecisionMaker {
		missing = append(missing, FactHasDecisionMaker)
	}
	if p.HasExistingPlant == nil || (*p.HasExistingPlant && (p.WantsNewPlant == nil || !*p.WantsNewPlant)) {
		missing = append(missing, FactHasExistingPlant)
	}
	if p.HasActiveContract == nil || *p.HasActiveContract {
		missing = append(missing, FactHasActiveContract)
	}
	return missing
}

// Gating fact names, used for missing-fact reporting and question selection.
const (
	FactBillValue         = "bill_value"
	FactHasDecisionMaker  = "has_decision_maker"
	FactHasExistingPlant  = "has_existing_plant"
	FactHasActiveContract = "has_active_contract"
	FactInterestConfirmed = "interest_confirmed"
)
