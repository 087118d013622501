// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package specialists

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TextGenerator produces the body of a protocol document. Production
// deployments can plug in an LLM-backed generator; the in-tree default
// renders a deterministic template.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ProtocolInput describes the procurement case a protocol is drafted for.
type ProtocolInput struct {
	ProcurementID     string  `json:"procurementId"`
	Name              string  `json:"name"`
	Value             float64 `json:"value"`
	Description       string  `json:"description"`
	PotentialSupplier string  `json:"potentialSupplier"`
}

// ProtocolResult carries the drafted document.
type ProtocolResult struct {
	ProcurementID string  `json:"procurementId"`
	Content       string  `json:"content"`
	Format        string  `json:"format"`
	Confidence    float64 `json:"confidence"`
}

// TemplateGenerator renders a formal protocol draft from a fixed
// markdown template. It ignores the prompt body except for the case
// facts embedded in it, which makes its output stable across runs.
type TemplateGenerator struct {
	now func() time.Time
}

// NewTemplateGenerator creates the deterministic default generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{now: time.Now}
}

func (g *TemplateGenerator) Generate(_ context.Context, prompt string) (string, error) {
	var b strings.Builder
	b.WriteString("# Anskaffelsesprotokoll (utkast)\n\n")
	b.WriteString(fmt.Sprintf("Generert: %s\n\n", g.now().UTC().Format("2006-01-02")))
	b.WriteString(prompt)
	b.WriteString("\n\n## Vurdering\n\n")
	b.WriteString("Anskaffelsen gjennomføres i henhold til anskaffelsesforskriften. ")
	b.WriteString("Protokollen er et utkast og skal kvalitetssikres før arkivering.\n")
	return b.String(), nil
}

// DraftProtocol builds the case prompt and renders a protocol through
// the configured generator.
func DraftProtocol(ctx context.Context, gen TextGenerator, in ProtocolInput) (ProtocolResult, error) {
	prompt := fmt.Sprintf(
		"## Saksopplysninger\n\n- Anskaffelses-ID: %s\n- Tittel: %s\n- Estimat: %.0f NOK\n- Beskrivelse: %s\n- Potensiell leverandør: %s",
		in.ProcurementID, in.Name, in.Value, in.Description, in.PotentialSupplier)

	content, err := gen.Generate(ctx, prompt)
	if err != nil {
		return ProtocolResult{}, fmt.Errorf("protocol generation failed: %w", err)
	}

	return ProtocolResult{
		ProcurementID: in.ProcurementID,
		Content:       content,
		Format:        "markdown",
		Confidence:    0.9,
	}, nil
}
