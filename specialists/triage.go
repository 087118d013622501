// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package specialists

import (
	"fmt"
	"strings"
)

// Triage colors for Norwegian public procurement classification.
const (
	ColorGreen  = "GRØNN"
	ColorYellow = "GUL"
	ColorRed    = "RØD"
)

// Value bands in NOK. Below the lower bound a case is green, above the
// upper bound it is red, in between it is yellow.
const (
	greenValueLimitNOK = 500_000
	redValueLimitNOK   = 1_300_000
)

// boundaryMarginNOK is the band around each threshold inside which the
// classification is considered uncertain and confidence drops.
const boundaryMarginNOK = 50_000

// highRiskTerms force a red classification regardless of value.
var highRiskTerms = []string{
	"gdpr",
	"persondata",
	"personopplysninger",
	"personal data",
	"sikkerhetsgradert",
	"classified",
}

// moderateRiskTerms raise a green case to yellow and lower confidence.
var moderateRiskTerms = []string{
	"sikkerhet",
	"security",
	"integrasjon",
	"integration",
	"rammeavtale",
	"framework agreement",
	"konsulent",
	"consultant",
}

// TriageInput is the procurement case under classification.
type TriageInput struct {
	ProcurementID string  `json:"procurementId"`
	Name          string  `json:"name"`
	Value         float64 `json:"value"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
}

// TriageResult is the classification outcome. Confidence below the
// orchestrator's threshold routes the case to manual review.
type TriageResult struct {
	ProcurementID            string   `json:"procurementId"`
	ProcurementName          string   `json:"procurementName"`
	Color                    string   `json:"color"`
	Reasoning                string   `json:"reasoning"`
	Confidence               float64  `json:"confidence"`
	RiskFactors              []string `json:"riskFactors"`
	MitigationMeasures       []string `json:"mitigationMeasures"`
	RequiresSpecialAttention bool     `json:"requiresSpecialAttention"`
	EscalationRecommended    bool     `json:"escalationRecommended"`
}

// Classify assigns a triage color from the case value and the risk terms
// found in its text. The rules mirror the procurement regulation bands:
// value decides the base color, detected risk raises it, and confidence
// reflects how close the case sits to a band boundary.
func Classify(in TriageInput) TriageResult {
	result := TriageResult{
		ProcurementID:      in.ProcurementID,
		ProcurementName:    in.Name,
		Confidence:         0.95,
		RiskFactors:        []string{},
		MitigationMeasures: []string{},
	}

	switch {
	case in.Value < greenValueLimitNOK:
		result.Color = ColorGreen
		result.Reasoning = fmt.Sprintf("Verdi %.0f NOK er under %d NOK.", in.Value, greenValueLimitNOK)
	case in.Value > redValueLimitNOK:
		result.Color = ColorRed
		result.Reasoning = fmt.Sprintf("Verdi %.0f NOK er over %d NOK.", in.Value, redValueLimitNOK)
	default:
		result.Color = ColorYellow
		result.Reasoning = fmt.Sprintf("Verdi %.0f NOK ligger mellom %d og %d NOK.", in.Value, greenValueLimitNOK, redValueLimitNOK)
	}

	text := strings.ToLower(in.Name + " " + in.Description + " " + in.Category)

	for _, term := range highRiskTerms {
		if strings.Contains(text, term) {
			result.Color = ColorRed
			result.RiskFactors = append(result.RiskFactors, fmt.Sprintf("Høy risiko: %s", term))
			result.Reasoning += fmt.Sprintf(" Klassifisert RØD på grunn av %s.", term)
		}
	}

	for _, term := range moderateRiskTerms {
		if strings.Contains(text, term) {
			if result.Color == ColorGreen {
				result.Color = ColorYellow
				result.Reasoning += fmt.Sprintf(" Hevet til GUL på grunn av %s.", term)
			}
			result.RiskFactors = append(result.RiskFactors, fmt.Sprintf("Moderat risiko: %s", term))
			result.Confidence -= 0.05
		}
	}

	if nearBoundary(in.Value, greenValueLimitNOK) || nearBoundary(in.Value, redValueLimitNOK) {
		result.Confidence -= 0.2
		result.RiskFactors = append(result.RiskFactors, "Verdi nær klassifiseringsgrense")
	}

	if result.Confidence < 0.5 {
		result.Confidence = 0.5
	}

	if result.Color == ColorRed {
		result.RequiresSpecialAttention = true
		result.EscalationRecommended = true
		result.MitigationMeasures = append(result.MitigationMeasures, "Manuell gjennomgang påkrevd")
	}
	if len(result.RiskFactors) > 0 && result.Color != ColorRed {
		result.MitigationMeasures = append(result.MitigationMeasures, "Vurder risikofaktorene før kunngjøring")
	}

	return result
}

func nearBoundary(value, limit float64) bool {
	diff := value - limit
	if diff < 0 {
		diff = -diff
	}
	return diff <= boundaryMarginNOK
}
