// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

// Package specialists implements the in-process capabilities the gateway
// exposes alongside its stored-procedure methods: triage classification
// of procurement cases and protocol document generation. Both are
// registered into the gateway's capability registry at startup.
package specialists
