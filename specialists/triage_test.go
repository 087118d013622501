// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package specialists

import (
	"testing"
)

func TestClassifyValueBands(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		wantColor string
	}{
		{"small purchase", 120_000, ColorGreen},
		{"just under green limit", 440_000, ColorGreen},
		{"mid band", 900_000, ColorYellow},
		{"exactly green limit", 500_000, ColorYellow},
		{"exactly red limit", 1_300_000, ColorYellow},
		{"above red limit", 2_000_000, ColorRed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Classify(TriageInput{
				ProcurementID: "p-1",
				Name:          "Kontormøbler",
				Value:         tt.value,
				Description:   "Standard leveranse",
			})
			if result.Color != tt.wantColor {
				t.Errorf("value %.0f: color = %s, want %s", tt.value, result.Color, tt.wantColor)
			}
		})
	}
}

func TestClassifyHighRiskForcesRed(t *testing.T) {
	result := Classify(TriageInput{
		ProcurementID: "p-2",
		Name:          "Sakssystem",
		Value:         100_000,
		Description:   "Systemet behandler personopplysninger underlagt GDPR",
	})

	if result.Color != ColorRed {
		t.Fatalf("color = %s, want RØD despite low value", result.Color)
	}
	if !result.EscalationRecommended || !result.RequiresSpecialAttention {
		t.Error("red classification must recommend escalation")
	}
	if len(result.RiskFactors) == 0 {
		t.Error("risk factors missing")
	}
}

func TestClassifyModerateRiskRaisesGreen(t *testing.T) {
	result := Classify(TriageInput{
		ProcurementID: "p-3",
		Name:          "Konsulentbistand",
		Value:         200_000,
	})

	if result.Color != ColorYellow {
		t.Errorf("color = %s, want GUL for consultant purchase", result.Color)
	}
	if result.Confidence >= 0.95 {
		t.Errorf("confidence = %.2f, should drop for detected risk", result.Confidence)
	}
}

func TestClassifyBoundaryLowersConfidence(t *testing.T) {
	clear := Classify(TriageInput{Name: "Utstyr", Value: 100_000})
	boundary := Classify(TriageInput{Name: "Utstyr", Value: 490_000})

	if boundary.Confidence >= clear.Confidence {
		t.Errorf("boundary confidence %.2f should be below clear-band confidence %.2f",
			boundary.Confidence, clear.Confidence)
	}
	if boundary.Confidence >= 0.85 {
		t.Errorf("boundary case confidence %.2f should fall below the review threshold", boundary.Confidence)
	}
}

func TestClassifyConfidenceFloor(t *testing.T) {
	result := Classify(TriageInput{
		Name:        "Sikkerhet konsulent integrasjon rammeavtale",
		Value:       510_000,
		Description: "security integration consultant framework agreement",
	})
	if result.Confidence < 0.5 {
		t.Errorf("confidence = %.2f, must not drop below 0.5", result.Confidence)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	in := TriageInput{ProcurementID: "p-4", Name: "Lisenser", Value: 750_000, Description: "Programvarelisenser"}
	first := Classify(in)
	second := Classify(in)

	if first.Color != second.Color || first.Confidence != second.Confidence || first.Reasoning != second.Reasoning {
		t.Error("classification must be deterministic for identical input")
	}
}
