package qualify

import (
	"testing"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

func TestParseBillValue(t *testing.T) {
	cases := []struct {
		text string
		want float64
	}{
		{"pago R$ 4.500,00 por mês", 4500},
		{"minha conta é R$450", 450},
		{"uns 380,50 reais", 380.5},
		{"R$ 2.000 aqui e R$ 3.000 na loja", 5000},
		{"R$ 1234.56", 1234.56},
		{"não sei o valor", 0},
		{"tenho 3 filhos", 0},
	}
	for _, tc := range cases {
		if got := parseBillValue(tc.text); got != tc.want {
			t.Errorf("parseBillValue(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestParseBrazilianAmount(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"4.500,00", 4500},
		{"450", 450},
		{"380,50", 380.5},
		{"1234.56", 1234.56},
		{"1.234.567", 1234567},
	}
	for _, tc := range cases {
		if got := parseBrazilianAmount(tc.raw); got != tc.want {
			t.Errorf("parseBrazilianAmount(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestAffirmationAndNegation(t *testing.T) {
	if !hasAffirmation("sim, pode marcar") {
		t.Error("expected affirmation in 'sim, pode marcar'")
	}
	if !hasAffirmation("com certeza!") {
		t.Error("expected affirmation in 'com certeza!'")
	}
	if hasAffirmation("talvez depois") {
		t.Error("unexpected affirmation in 'talvez depois'")
	}
	if !hasNegation("não, obrigado") {
		t.Error("expected negation in 'não, obrigado'")
	}
	if !hasNegation("nao tenho") {
		t.Error("expected negation in unaccented 'nao tenho'")
	}
	if hasNegation("sim claro") {
		t.Error("unexpected negation in 'sim claro'")
	}
}

func TestExtractFactsResolvesPendingQuestion(t *testing.T) {
	p := models.NewQualificationProfile("5511999990000")
	learned := extractFacts(p, "sim, sou eu mesmo", models.FactHasDecisionMaker)
	if learned == 0 || p.HasDecisionMaker == nil || !*p.HasDecisionMaker {
		t.Errorf("expected decision maker confirmed, got %+v (learned %d)", p.HasDecisionMaker, learned)
	}

	p2 := models.NewQualificationProfile("5511999990000")
	extractFacts(p2, "não tenho contrato com ninguém não", models.FactHasActiveContract)
	if p2.HasActiveContract == nil || *p2.HasActiveContract {
		t.Errorf("negation should resolve active contract to false, got %+v", p2.HasActiveContract)
	}
}

func TestExtractFactsUnpromptedDeclarations(t *testing.T) {
	p := models.NewQualificationProfile("5511999990000")
	extractFacts(p, "já tenho usina instalada mas quero ampliar", models.FactInterestConfirmed)
	if p.HasExistingPlant == nil || !*p.HasExistingPlant {
		t.Error("expected existing plant flagged from unprompted declaration")
	}
	if p.WantsNewPlant == nil || !*p.WantsNewPlant {
		t.Error("expected wish for additional plant flagged")
	}
}

func TestExtractFactsAmbiguousLearnsNothing(t *testing.T) {
	p := models.NewQualificationProfile("5511999990000")
	learned := extractFacts(p, "hmm vou pensar", models.FactInterestConfirmed)
	if learned != 0 || p.InterestConfirmed != nil {
		t.Errorf("ambiguous text must not resolve facts, learned=%d profile=%+v", learned, p.InterestConfirmed)
	}
}
