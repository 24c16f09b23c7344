// Package qualify implements fact extraction from flushed inbound text.
//
// The state machine decides every transition in code; the language model only
// phrases replies. Facts are therefore extracted here, deterministically,
// from the lead's own words: currency amounts for the bill value and
// affirmation/negation signals resolved against the question the agent last
// asked.
package qualify

import (
	"regexp"
	"strings"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

// currencyRegex matches Brazilian currency amounts: "R$ 4.500,00", "R$450",
// "450,75 reais".
var currencyRegex = regexp.MustCompile(`(?i)(?:r\$\s*([\d.,]+\d|\d)|([\d.,]+\d|\d)\s*reais)`)

// affirmations and negations are lowercase tokens checked word-by-word.
var affirmations = map[string]bool{
	"sim":      true,
	"claro":    true,
	"pode":     true,
	"quero":    true,
	"tenho":    true,
	"sou":      true,
	"isso":     true,
	"exato":    true,
	"perfeito": true,
	"ok":       true,
	"bora":     true,
	"vamos":    true,
	"consigo":  true,
	"aceito":   true,
	"top":      true,
	"show":     true,
	"fechado":  true,
	"combinado": true,
}

var negations = map[string]bool{
	"não":      true,
	"nao":      true,
	"nunca":    true,
	"jamais":   true,
	"nenhum":   true,
	"nenhuma":  true,
	"negativo": true,
}

// existingPlantPhrases flag an already-installed system regardless of which
// question is pending.
var existingPlantPhrases = []string{
	"já tenho usina",
	"ja tenho usina",
	"já tenho placa",
	"ja tenho placa",
	"já tenho painel",
	"ja tenho painel",
	"já instalei",
	"ja instalei",
	"tenho energia solar",
}

var additionalPlantPhrases = []string{
	"mais uma usina",
	"outra usina",
	"segunda usina",
	"ampliar",
	"expandir",
}

var activeContractPhrases = []string{
	"tenho contrato",
	"contrato de fidelidade",
	"fidelidade",
	"contrato vigente",
	"contrato com outra",
}

var decisionMakerPhrases = []string{
	"sou eu que decido",
	"eu que decido",
	"sou o dono",
	"sou a dona",
	"decido eu",
	"sou o responsável",
	"sou a responsável",
	"sou o responsavel",
	"sou a responsavel",
}

// parseBillValue extracts and sums every currency amount mentioned in the
// text. Multiple bills explicitly summed count toward the threshold. Returns
// zero when no amount is present.
func parseBillValue(text string) float64 {
	var total float64
	for _, match := range currencyRegex.FindAllStringSubmatch(text, -1) {
		raw := match[1]
		if raw == "" {
			raw = match[2]
		}
		total += parseBrazilianAmount(raw)
	}
	return total
}

// parseBrazilianAmount converts "4.500,00" or "4500.00" or "450,75" to a
// float. Dots before a comma are thousands separators.
func parseBrazilianAmount(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if strings.Contains(raw, ",") {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.ReplaceAll(raw, ",", ".")
	} else if dots := strings.Count(raw, "."); dots > 0 {
		// A single dot followed by exactly two digits reads as a decimal
		// point; anything else reads as thousands separators.
		last := strings.LastIndex(raw, ".")
		if dots > 1 || len(raw)-last-1 != 2 {
			raw = strings.ReplaceAll(raw, ".", "")
		}
	}
	var value float64
	for _, ch := range raw {
		if ch >= '0' && ch <= '9' {
			value = value*10 + float64(ch-'0')
		} else if ch == '.' {
			frac := 0.1
			for _, d := range raw[strings.IndexRune(raw, '.')+1:] {
				if d >= '0' && d <= '9' {
					value += float64(d-'0') * frac
					frac /= 10
				}
			}
			break
		}
	}
	return value
}

// hasAffirmation reports a positive signal in the text.
func hasAffirmation(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "com certeza") {
		return true
	}
	for _, word := range strings.FieldsFunc(lower, isWordSeparator) {
		if affirmations[word] {
			return true
		}
	}
	return false
}

// hasNegation reports a negative signal in the text.
func hasNegation(text string) bool {
	lower := strings.ToLower(text)
	for _, word := range strings.FieldsFunc(lower, isWordSeparator) {
		if negations[word] {
			return true
		}
	}
	return false
}

func isWordSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
		r == 'ã' || r == 'á' || r == 'à' || r == 'â' || r == 'é' || r == 'ê' ||
		r == 'í' || r == 'ó' || r == 'ô' || r == 'õ' || r == 'ú' || r == 'ç')
}

func containsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// extractFacts applies everything the flushed text reveals to the profile and
// returns how many facts were newly learned or changed. The yes/no signal is
// resolved against pendingFact, the gating fact the agent asked about last.
func extractFacts(p *models.QualificationProfile, text, pendingFact string) int {
	learned := 0
	// A negation anywhere dominates: "não tenho contrato" must read as no
	// even though "tenho" alone reads as yes.
	no := hasNegation(text)
	yes := !no && hasAffirmation(text)

	if bill := parseBillValue(text); bill > 0 && bill != p.BillValue {
		p.BillValue = bill
		learned++
	}

	// Unprompted declarations. Only positive-leaning messages count; a
	// negated sentence mentioning "contrato" or "usina" is not a declaration.
	if !no {
		if containsAny(text, existingPlantPhrases) && (p.HasExistingPlant == nil || !*p.HasExistingPlant) {
			p.HasExistingPlant = models.BoolPtr(true)
			learned++
		}
		if containsAny(text, additionalPlantPhrases) && (p.WantsNewPlant == nil || !*p.WantsNewPlant) {
			p.WantsNewPlant = models.BoolPtr(true)
			learned++
		}
		if containsAny(text, activeContractPhrases) && (p.HasActiveContract == nil || !*p.HasActiveContract) {
			p.HasActiveContract = models.BoolPtr(true)
			learned++
		}
		if containsAny(text, decisionMakerPhrases) && (p.HasDecisionMaker == nil || !*p.HasDecisionMaker) {
			p.HasDecisionMaker = models.BoolPtr(true)
			learned++
		}
	}

	if !yes && !no {
		// Silent on the pending question; learn nothing from it.
		return learned
	}

	switch pendingFact {
	case models.FactInterestConfirmed:
		learned += setBool(&p.InterestConfirmed, yes)
	case models.FactHasDecisionMaker:
		learned += setBool(&p.HasDecisionMaker, yes)
	case models.FactHasExistingPlant:
		// The question is "do you already have a plant?": yes is the
		// disqualifying direction unless an additional plant is wanted.
		learned += setBool(&p.HasExistingPlant, yes)
	case models.FactHasActiveContract:
		learned += setBool(&p.HasActiveContract, yes)
	}
	return learned
}

// setBool updates a tri-state fact and reports 1 when the value changed.
func setBool(field **bool, value bool) int {
	if *field != nil && **field == value {
		return 0
	}
	*field = models.BoolPtr(value)
	return 1
}
