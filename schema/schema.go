// Package schema holds the gateway-local wire vocabulary: the JSON shapes the
// dispatcher manipulates when aggregating tool catalogs and the error codes it
// adds on top of plain JSON-RPC.
package schema

import "encoding/json"

// Tool mirrors the MCP tool descriptor at the JSON level. The gateway treats
// input schemas as opaque documents; only the name is rewritten during
// cross-service aggregation.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

// ListToolsResult is the tools/list result envelope.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams carries the subset of tools/call params the gateway needs to
// resolve and rewrite the target tool; remaining fields pass through verbatim.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ParseCallToolParams decodes tools/call params.
func ParseCallToolParams(data json.RawMessage) (*CallToolParams, error) {
	params := &CallToolParams{}
	if err := json.Unmarshal(data, params); err != nil {
		return nil, err
	}
	return params, nil
}

// EmptyResult is the canonical "{}" result body.
var EmptyResult = json.RawMessage(`{}`)

// MustMarshal marshals a value that cannot fail (gateway-owned types only).
func MustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
