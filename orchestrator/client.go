// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"agentgate/platform/gateway"
)

// RPCCallError is a gateway-reported call failure carrying the JSON-RPC
// error code and machine-readable kind.
type RPCCallError struct {
	Code    int
	Kind    string
	Message string
}

func (e *RPCCallError) Error() string {
	return fmt.Sprintf("gateway error %d (%s): %s", e.Code, e.Kind, e.Message)
}

// GatewayClient calls the gateway's /rpc endpoint as one named agent.
type GatewayClient struct {
	baseURL string
	agentID string
	http    *http.Client
}

// NewGatewayClient creates a client identifying as agentID.
func NewGatewayClient(baseURL, agentID string) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		agentID: agentID,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Call performs one JSON-RPC call. Gateway-level errors come back as
// *RPCCallError; transport failures as plain errors.
func (c *GatewayClient) Call(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}
	id, err := json.Marshal(uuid.New().String())
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(gateway.RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  rawParams,
		ID:      id,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", c.agentID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	var rpcResp gateway.RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("invalid gateway response (HTTP %d): %w", resp.StatusCode, err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCCallError{
			Code:    rpcResp.Error.Code,
			Kind:    rpcResp.Error.Kind(),
			Message: rpcResp.Error.Message,
		}
	}

	result, ok := rpcResp.Result.(map[string]interface{})
	if !ok && rpcResp.Result != nil {
		// Scalar results are wrapped so callers always get an object.
		return map[string]interface{}{"value": rpcResp.Result}, nil
	}
	return result, nil
}
