// Package demo provides a built-in tool service useful for smoke-testing a
// gateway deployment without running any downstream process: an echo tool and
// a local terminal backed by gosh.
package demo

import (
	"context"
	"fmt"
	"strings"

	"github.com/viant/gosh"
	"github.com/viant/gosh/runner/local"
	"github.com/viant/jsonrpc"
	proto "github.com/viant/mcp-protocol/schema"

	"github.com/relayforge/relayforge/adapter"
	"github.com/relayforge/relayforge/schema"
)

// Adapter serves the demo tools in process.
type Adapter struct {
	shell *gosh.Service
}

// New creates the demo adapter with a local shell runner.
func New(ctx context.Context) (*Adapter, error) {
	shell, err := gosh.New(ctx, local.New())
	if err != nil {
		return nil, err
	}
	return &Adapter{shell: shell}, nil
}

// SupportsInjection accepts per-call environment for the terminal tool.
func (a *Adapter) SupportsInjection(kind adapter.Injection) bool {
	return kind == adapter.InjectAPIKey
}

// HandleRequest serves vanilla MCP: tools/list and tools/call.
func (a *Adapter) HandleRequest(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	response := &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Id: request.Id}
	switch request.Method {
	case proto.MethodToolsList:
		response.Result = schema.MustMarshal(a.tools())
	case proto.MethodToolsCall:
		a.call(ctx, request, response)
	case proto.MethodPing:
		response.Result = schema.EmptyResult
	default:
		response.Error = jsonrpc.NewMethodNotFound(fmt.Sprintf("method: %v not found", request.Method), request.Params)
	}
	return response, nil
}

func (a *Adapter) tools() *schema.ListToolsResult {
	return &schema.ListToolsResult{
		Tools: []schema.Tool{
			{
				Name:        "echo",
				Description: "Returns the supplied text unchanged",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"text": map[string]interface{}{"type": "string"},
					},
					"required": []string{"text"},
				},
			},
			{
				Name:        "terminal",
				Description: "Runs shell commands on the gateway host",
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"commands": map[string]interface{}{
							"type":  "array",
							"items": map[string]interface{}{"type": "string"},
						},
					},
					"required": []string{"commands"},
				},
			},
		},
	}
}

func (a *Adapter) call(ctx context.Context, request *jsonrpc.Request, response *jsonrpc.Response) {
	params, err := schema.ParseCallToolParams(request.Params)
	if err != nil {
		response.Error = jsonrpc.NewInvalidParamsError(fmt.Sprintf("failed to parse: %v", err), request.Params)
		return
	}
	switch params.Name {
	case "echo":
		text, _ := params.Arguments["text"].(string)
		response.Result = schema.MustMarshal(textResult(text, false))
	case "terminal":
		a.terminal(ctx, params, response)
	default:
		response.Error = jsonrpc.NewMethodNotFound(fmt.Sprintf("tool: %v not found", params.Name), request.Params)
	}
}

func (a *Adapter) terminal(ctx context.Context, params *schema.CallToolParams, response *jsonrpc.Response) {
	raw, _ := params.Arguments["commands"].([]interface{})
	var commands []string
	for _, item := range raw {
		if command, ok := item.(string); ok && command != "" {
			commands = append(commands, command)
		}
	}
	if len(commands) == 0 {
		response.Error = jsonrpc.NewInvalidParamsError("commands are required", nil)
		return
	}
	var parts []string
	if env, ok := adapter.Environment(ctx); ok {
		for key, value := range env {
			parts = append(parts, fmt.Sprintf("export %v=%q", key, value))
		}
	}
	parts = append(parts, commands...)
	command := strings.Join(parts, " && ")

	output, code, err := a.shell.Run(ctx, command)
	if err != nil {
		response.Error = jsonrpc.NewInternalError(err.Error(), []byte(command))
		return
	}
	response.Result = schema.MustMarshal(textResult(output, code != 0))
}

func textResult(text string, isError bool) *proto.CallToolResult {
	result := &proto.CallToolResult{
		Content: []proto.CallToolResultContentElem{{Text: text}},
	}
	if isError {
		result.IsError = &isError
	}
	return result
}
