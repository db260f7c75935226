package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coopersmall/agentruntime/tools"
)

// ServerConfig names one configured MCP server and the caller that reaches
// it (spec.md §4.3 "(ii) external-protocol tools retrieved from configured
// servers at run start").
type ServerConfig struct {
	// Name prefixes every tool the server advertises, so identically named
	// tools on two servers don't collide in a run's ToolSet.
	Name   string
	Caller Caller
}

// Discover retrieves the tool declarations a server currently advertises.
func Discover(ctx context.Context, server ServerConfig) ([]ToolDecl, error) {
	decls, err := server.Caller.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: discover %s: %w", server.Name, err)
	}
	return decls, nil
}

// BuildTools adapts a server's discovered tool declarations into harness
// tool definitions. Each executor calls out to the server and translates
// thrown transport/protocol failures into tools.Failure outcomes rather
// than propagating a Go error, per spec.md §4.3 (ii).
func BuildTools(server ServerConfig, decls []ToolDecl) []tools.Def {
	out := make([]tools.Def, 0, len(decls))
	for _, d := range decls {
		out = append(out, buildTool(server, d))
	}
	return out
}

func buildTool(server ServerConfig, decl ToolDecl) tools.Def {
	name := decl.Name
	if server.Name != "" {
		name = server.Name + "." + decl.Name
	}
	toolName := decl.Name
	schema := decl.InputSchema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return tools.Def{
		Name:        name,
		Description: decl.Description,
		Schema:      schema,
		Tags:        []string{"mcp", server.Name},
		Execute: tools.ExecutorFunc(func(ctx context.Context, ectx tools.ExecContext, input json.RawMessage) (tools.Outcome, error) {
			resp, err := server.Caller.CallTool(ctx, CallRequest{Tool: toolName, Payload: input})
			if err != nil {
				return outcomeFromError(err), nil
			}
			if resp.IsError {
				return tools.Failure(string(resp.Result), "mcp_tool_error", false), nil
			}
			var value any
			if err := json.Unmarshal(resp.Result, &value); err != nil {
				value = string(resp.Result)
			}
			return tools.Success(value), nil
		}),
	}
}

// outcomeFromError translates a Caller error into the error variant of
// spec.md §4.3 step 3, marking invalid-parameter failures retryable so the
// model can correct its input and try again.
func outcomeFromError(err error) tools.Outcome {
	var rpcErr *Error
	if asError(err, &rpcErr) {
		return tools.Failure(rpcErr.Message, jsonrpcCode(rpcErr.Code), rpcErr.Retryable())
	}
	return tools.Failure(err.Error(), "mcp_transport_error", true)
}

func asError(err error, target **Error) bool {
	if e, ok := err.(*Error); ok {
		*target = e
		return true
	}
	return false
}

func jsonrpcCode(code int) string {
	switch code {
	case JSONRPCInvalidParams:
		return "invalid_params"
	case JSONRPCMethodNotFound:
		return "method_not_found"
	case JSONRPCInvalidRequest:
		return "invalid_request"
	case JSONRPCParseError:
		return "parse_error"
	default:
		return "internal_error"
	}
}
