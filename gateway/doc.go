// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the single entry point for agent tool calls. It
// exposes a JSON-RPC 2.0 endpoint that resolves dotted method names
// against a database-backed capability catalog, enforces deny-by-default
// access rules per agent, validates parameters against per-method JSON
// schemas, and routes calls to either PostgreSQL stored procedures or
// in-process handlers.
//
// Configuration is read once into an immutable snapshot and swapped
// atomically on reload, so a request always observes one consistent view
// of the catalog and access rules.
package gateway
