// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
)

// Maximum accepted procurement description length. Longer descriptions
// are truncated rather than rejected.
const maxDescriptionLength = 50000

// Values above this are not blocked, only flagged for manual attention.
const suspiciousValueNOK = 100_000_000

// prohibitedContentPatterns are substrings never accepted in free-text
// procurement fields.
var prohibitedContentPatterns = []string{"<script>", "javascript:", "data:", "<?php", "<%"}

// hardenParams applies method-specific input hardening on top of schema
// validation. It may rewrite params (truncation) or reject them.
func hardenParams(method string, params map[string]interface{}) error {
	if method != "database.create_procurement" {
		return nil
	}

	if value, ok := numberParam(params, "value"); ok && value < 0 {
		return fmt.Errorf("procurement value cannot be negative")
	}
	if value, ok := numberParam(params, "value"); ok && value > suspiciousValueNOK {
		log.Printf("Suspiciously high procurement value flagged for review: %.0f", value)
	}

	name, _ := params["name"].(string)
	if len(strings.TrimSpace(name)) < 3 {
		return fmt.Errorf("procurement name must be at least 3 characters")
	}

	if description, ok := params["description"].(string); ok {
		if len(description) > maxDescriptionLength {
			log.Printf("Procurement description truncated from %d characters", len(description))
			description = description[:maxDescriptionLength]
			params["description"] = description
		}
		lower := strings.ToLower(description)
		for _, pattern := range prohibitedContentPatterns {
			if strings.Contains(lower, pattern) {
				return fmt.Errorf("prohibited content detected: %s", pattern)
			}
		}
	}

	return nil
}

// requiredResultFields lists the fields a procedure's result object must
// carry for the call to count as a success. Procedures signal their own
// failures inside the JSON they return, so the dispatcher checks shape
// here instead of trusting the row blindly.
var requiredResultFields = map[string][]string{
	"database.save_triage_result": {"status", "resultId"},
	"database.save_protocol":      {"status"},
	"database.create_procurement": {"status"},
}

// validateProcedureResult enforces method-specific result contracts.
func validateProcedureResult(method string, result interface{}) error {
	required, ok := requiredResultFields[method]
	if !ok {
		return nil
	}

	obj, ok := result.(map[string]interface{})
	if !ok {
		return fmt.Errorf("expected object result from %s", method)
	}

	for _, field := range required {
		if _, present := obj[field]; !present {
			return fmt.Errorf("missing required field %q in %s result", field, method)
		}
	}

	if status, _ := obj["status"].(string); status == "success" {
		switch method {
		case "database.create_procurement":
			id, _ := obj["procurementId"].(string)
			if id == "" {
				return fmt.Errorf("missing procurementId in successful %s result", method)
			}
			if _, err := uuid.Parse(id); err != nil {
				return fmt.Errorf("invalid UUID for procurementId in %s result", method)
			}
		case "database.save_protocol":
			if _, present := obj["protocolId"]; !present {
				return fmt.Errorf("missing protocolId in successful %s result", method)
			}
		}
	}

	return nil
}

func numberParam(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
