// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Agent identifiers are catalog keys and Redis key fragments, so the
// accepted character set is deliberately narrow.
var agentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)

// AgentIDFromRequest extracts and validates the caller identity header.
func AgentIDFromRequest(r *http.Request) (string, error) {
	agentID := strings.TrimSpace(r.Header.Get("X-Agent-ID"))
	if agentID == "" {
		return "", fmt.Errorf("missing X-Agent-ID header")
	}
	if !agentIDPattern.MatchString(agentID) {
		return "", fmt.Errorf("invalid agent identifier")
	}
	return agentID, nil
}

// AdminAuthenticator guards the administrative endpoints (config reload)
// with an HS256 bearer token. With no secret configured, admin endpoints
// are disabled rather than open.
type AdminAuthenticator struct {
	secret []byte
}

func NewAdminAuthenticator(secret string) *AdminAuthenticator {
	if secret == "" {
		return &AdminAuthenticator{}
	}
	return &AdminAuthenticator{secret: []byte(secret)}
}

// Enabled reports whether a signing secret is configured.
func (a *AdminAuthenticator) Enabled() bool {
	return len(a.secret) > 0
}

// Authorize checks the Authorization bearer token on an admin request.
func (a *AdminAuthenticator) Authorize(r *http.Request) error {
	if !a.Enabled() {
		return fmt.Errorf("admin endpoints are not configured")
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return fmt.Errorf("missing bearer token")
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("invalid admin token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid admin token")
	}

	return nil
}
