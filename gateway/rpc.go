// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSON-RPC 2.0 error codes. The -32000..-32099 range carries
// application-level conditions; each error also carries a
// machine-readable kind in data.kind.
const (
	CodeParseError         = -32700
	CodeInvalidRequest     = -32600
	CodeMethodNotFound     = -32601
	CodeInvalidParams      = -32602
	CodeInternalError      = -32603
	CodeUnauthorized       = -32001
	CodeServiceUnavailable = -32002
	CodeRateLimited        = -32003
	CodeTimeout            = -32004
)

// Error kinds surfaced in RPCError.Data.Kind. These are stable strings:
// callers branch on them, so renaming one is a breaking change.
const (
	KindProtocol           = "protocol"
	KindMethodNotFound     = "method_not_found"
	KindAuthorizationDeny  = "authorization_denied"
	KindInvalidParams      = "invalid_params"
	KindBackendProcedure   = "backend_procedure"
	KindBackendInProcess   = "backend_in_process"
	KindCircuitOpen        = "circuit_open"
	KindTimeout            = "timeout"
	KindRateLimited        = "rate_limited"
	KindInternal           = "internal"
)

// RPCRequest is the inbound JSON-RPC 2.0 envelope.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// RPCErrorData carries machine-readable error detail alongside the
// human-readable message.
type RPCErrorData struct {
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    *RPCErrorData `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Kind returns the machine-readable error kind, or "internal" when unset.
func (e *RPCError) Kind() string {
	if e.Data == nil || e.Data.Kind == "" {
		return KindInternal
	}
	return e.Data.Kind
}

// NewRPCError builds an RPCError with its kind attached.
func NewRPCError(code int, kind, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    &RPCErrorData{Kind: kind},
	}
}

// RPCResponse is the outbound JSON-RPC 2.0 envelope. Exactly one of
// Result and Error is set; newResultResponse and newErrorResponse are
// the only constructors.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

func newResultResponse(id json.RawMessage, result interface{}) *RPCResponse {
	return &RPCResponse{JSONRPC: "2.0", Result: result, ID: id}
}

func newErrorResponse(id json.RawMessage, rpcErr *RPCError) *RPCResponse {
	return &RPCResponse{JSONRPC: "2.0", Error: rpcErr, ID: id}
}

// ParseMethod splits a dotted method name into its (service, methodKey)
// pair. The split is on the first dot only, so "database.save_triage_result"
// yields ("database", "save_triage_result").
func ParseMethod(method string) (service, methodKey string, err error) {
	service, methodKey, found := strings.Cut(method, ".")
	if !found || service == "" || methodKey == "" {
		return "", "", fmt.Errorf("invalid method format, expected 'service.function', got %q", method)
	}
	return service, methodKey, nil
}
