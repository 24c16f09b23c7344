// Package models defines the qualification stages of the SDR flow.
package models

// Stage is one position in the lead qualification flow.
type Stage string

const (
	StageNew                Stage = "new"
	StageIdentifyingNeed    Stage = "identifying_need"
	StageQualifying         Stage = "qualifying"
	StageDiscovery          Stage = "discovery"
	StagePresentingSolution Stage = "presenting_solution"
	StageHandlingObjection  Stage = "handling_objection"
	StageScheduling         Stage = "scheduling"
	StageScheduled          Stage = "scheduled"
	StageDisqualified       Stage = "disqualified"
	StageAbandoned          Stage = "abandoned"
)

// AllStages lists every stage in flow order, terminals last.
var AllStages = []Stage{
	StageNew,
	StageIdentifyingNeed,
	StageQualifying,
	StageDiscovery,
	StagePresentingSolution,
	StageHandlingObjection,
	StageScheduling,
	StageScheduled,
	StageDisqualified,
	StageAbandoned,
}

// IsTerminal reports whether the stage has no outbound transitions. Profiles
// in a terminal stage are archived to the CRM collaborator.
func (s Stage) IsTerminal() bool {
	switch s {
	case StageScheduled, StageDisqualified, StageAbandoned:
		return true
	}
	return false
}

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	for _, stage := range AllStages {
		if s == stage {
			return true
		}
	}
	return false
}

// Outcome maps a terminal stage to the archival outcome label.
func (s Stage) Outcome() string {
	switch s {
	case StageScheduled:
		return "qualified-and-scheduled"
	case StageDisqualified:
		return "disqualified"
	case StageAbandoned:
		return "abandoned"
	}
	return ""
}
