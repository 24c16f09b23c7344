package models

import "testing"

func qualifiedProfile() *QualificationProfile {
	p := NewQualificationProfile("5511999990000")
	p.BillValue = 5000
	p.HasDecisionMaker = BoolPtr(true)
	p.HasExistingPlant = BoolPtr(false)
	p.HasActiveContract = BoolPtr(false)
	p.InterestConfirmed = BoolPtr(true)
	return p
}

func TestSchedulingAllowedFullyQualified(t *testing.T) {
	p := qualifiedProfile()
	if !p.SchedulingAllowed(4000) {
		t.Fatalf("expected fully qualified profile to pass the gate, missing: %v", p.MissingGateFacts(4000))
	}
}

func TestSchedulingBlockedByAnySingleFact(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *QualificationProfile)
	}{
		{"bill below threshold", func(p *QualificationProfile) { p.BillValue = 300 }},
		{"bill unknown", func(p *QualificationProfile) { p.BillValue = 0 }},
		{"no decision maker", func(p *QualificationProfile) { p.HasDecisionMaker = BoolPtr(false) }},
		{"decision maker unknown", func(p *QualificationProfile) { p.HasDecisionMaker = nil }},
		{"existing plant", func(p *QualificationProfile) { p.HasExistingPlant = BoolPtr(true) }},
		{"existing plant unknown", func(p *QualificationProfile) { p.HasExistingPlant = nil }},
		{"active contract", func(p *QualificationProfile) { p.HasActiveContract = BoolPtr(true) }},
		{"contract unknown", func(p *QualificationProfile) { p.HasActiveContract = nil }},
		{"interest not confirmed", func(p *QualificationProfile) { p.InterestConfirmed = BoolPtr(false) }},
		{"interest unknown", func(p *QualificationProfile) { p.InterestConfirmed = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := qualifiedProfile()
			tc.mutate(p)
			if p.SchedulingAllowed(4000) {
				t.Errorf("expected gate to block after mutation %q", tc.name)
			}
			if len(p.MissingGateFacts(4000)) == 0 {
				t.Errorf("expected at least one missing fact after mutation %q", tc.name)
			}
		})
	}
}

func TestExistingPlantAllowedWhenWantsAdditional(t *testing.T) {
	p := qualifiedProfile()
	p.HasExistingPlant = BoolPtr(true)
	p.WantsNewPlant = BoolPtr(true)
	if !p.SchedulingAllowed(4000) {
		t.Errorf("existing plant with explicit wish for an additional one should pass the gate")
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := qualifiedProfile()
	cp := p.Clone()
	*cp.HasDecisionMaker = false
	cp.BillValue = 1

	if !*p.HasDecisionMaker {
		t.Error("mutating clone changed the original decision-maker fact")
	}
	if p.BillValue != 5000 {
		t.Error("mutating clone changed the original bill value")
	}
}

func TestStageTerminality(t *testing.T) {
	terminals := map[Stage]bool{
		StageScheduled:    true,
		StageDisqualified: true,
		StageAbandoned:    true,
	}
	for _, s := range AllStages {
		if got := s.IsTerminal(); got != terminals[s] {
			t.Errorf("stage %s: IsTerminal() = %v, want %v", s, got, terminals[s])
		}
		if !s.IsValid() {
			t.Errorf("stage %s should be valid", s)
		}
	}
	if Stage("nonexistent").IsValid() {
		t.Error("unknown stage should not be valid")
	}
}

func TestFlushUnitIsEmpty(t *testing.T) {
	if !(FlushUnit{}).IsEmpty() {
		t.Error("zero flush unit should be empty")
	}
	if (FlushUnit{Text: "oi"}).IsEmpty() {
		t.Error("unit with text should not be empty")
	}
	if (FlushUnit{Attachments: []Attachment{{Kind: FragmentKindImage}}}).IsEmpty() {
		t.Error("unit with attachments should not be empty")
	}
}
