// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package specialists

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDraftProtocolWithTemplate(t *testing.T) {
	gen := NewTemplateGenerator()
	gen.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	result, err := DraftProtocol(context.Background(), gen, ProtocolInput{
		ProcurementID:     "0b9f9f2e-1f9a-4c9e-8a6a-3f1f2f3a4b5c",
		Name:              "Nye bærbare maskiner",
		Value:             450_000,
		Description:       "Utskifting av utdatert utstyr",
		PotentialSupplier: "Atea",
	})
	if err != nil {
		t.Fatalf("DraftProtocol: %v", err)
	}

	if result.Format != "markdown" {
		t.Errorf("format = %s", result.Format)
	}
	for _, want := range []string{
		"Anskaffelsesprotokoll",
		"Nye bærbare maskiner",
		"450000 NOK",
		"Atea",
		"2025-06-01",
	} {
		if !strings.Contains(result.Content, want) {
			t.Errorf("protocol content missing %q", want)
		}
	}
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string) (string, error) {
	return "", errors.New("model unavailable")
}

func TestDraftProtocolPropagatesGeneratorError(t *testing.T) {
	_, err := DraftProtocol(context.Background(), failingGenerator{}, ProtocolInput{
		ProcurementID: "p-1",
		Name:          "Lisenser",
	})
	if err == nil {
		t.Fatal("expected generator error")
	}
}

func TestTemplateGeneratorDeterministic(t *testing.T) {
	gen := NewTemplateGenerator()
	fixed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	gen.now = func() time.Time { return fixed }

	first, _ := gen.Generate(context.Background(), "case facts")
	second, _ := gen.Generate(context.Background(), "case facts")
	if first != second {
		t.Error("template output must be stable for identical input")
	}
}
