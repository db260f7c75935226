package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

type (
	// HTTPOptions configures an HTTPCaller.
	HTTPOptions struct {
		// Endpoint is the server's MCP HTTP endpoint.
		Endpoint string
		// Headers are sent with every request (auth tokens, etc.).
		Headers map[string]string
		// Client overrides the HTTP client used for requests; defaults to a
		// client with a 30s timeout.
		Client *http.Client
	}

	// HTTPCaller implements Caller over HTTP using Server-Sent Events for
	// tools/call responses, matching the streaming MCP transport pattern.
	HTTPCaller struct {
		endpoint string
		headers  map[string]string
		client   *http.Client
		nextID   atomic.Int64
	}

	rpcRequest struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int64  `json:"id"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}

	rpcResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      int64           `json:"id"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *rpcError       `json:"error,omitempty"`
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	toolCallResult struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
		IsError           bool            `json:"isError,omitempty"`
		StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	}

	listToolsResult struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
)

func (e *rpcError) callerError() error { return &Error{Code: e.Code, Message: e.Message} }

// NewHTTPCaller performs the MCP initialize handshake against opts.Endpoint
// and returns a ready-to-use Caller.
func NewHTTPCaller(ctx context.Context, opts HTTPOptions) (*HTTPCaller, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("mcp: endpoint required")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	c := &HTTPCaller{endpoint: opts.Endpoint, headers: opts.Headers, client: client}
	if err := c.initialize(ctx); err != nil {
		return nil, fmt.Errorf("mcp: initialize %s: %w", opts.Endpoint, err)
	}
	return c, nil
}

func (c *HTTPCaller) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "agentruntime", "version": "1"},
	}
	_, err := c.call(ctx, "initialize", params)
	return err
}

// ListTools issues tools/list and decodes the advertised tool declarations.
func (c *HTTPCaller) ListTools(ctx context.Context) ([]ToolDecl, error) {
	raw, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	var res listToolsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("mcp: decode tools/list: %w", err)
	}
	out := make([]ToolDecl, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, ToolDecl{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out, nil
}

// CallTool invokes tools/call and normalizes the result.
func (c *HTTPCaller) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	raw, err := c.call(ctx, "tools/call", map[string]any{
		"name":      req.Tool,
		"arguments": json.RawMessage(req.Payload),
	})
	if err != nil {
		return CallResponse{}, err
	}
	var res toolCallResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return CallResponse{}, fmt.Errorf("mcp: decode tools/call result: %w", err)
	}
	var text strings.Builder
	for _, block := range res.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	result := json.RawMessage(res.StructuredContent)
	if len(result) == 0 {
		encoded, err := json.Marshal(text.String())
		if err != nil {
			return CallResponse{}, err
		}
		result = encoded
	}
	return CallResponse{Result: result, IsError: res.IsError}, nil
}

func (c *HTTPCaller) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	addTraceMeta(ctx, asParamsMap(params))
	rpcReq := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	injectTraceHeaders(ctx, httpReq.Header)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mcp rpc status %d: %s", resp.StatusCode, string(raw))
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(ct, "text/event-stream") {
		return readSSEResponse(resp.Body)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("mcp: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error.callerError()
	}
	return rpcResp.Result, nil
}

func asParamsMap(params any) map[string]any {
	m, _ := params.(map[string]any)
	return m
}

// readSSEResponse reads SSE frames until a "response" or "error" event
// carries the JSON-RPC result, matching the server's streaming reply shape
// for long-running tool calls.
func readSSEResponse(body io.Reader) (json.RawMessage, error) {
	reader := bufio.NewReader(body)
	for {
		event, data, err := readSSEEvent(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("mcp: sse stream closed before response")
			}
			return nil, err
		}
		switch event {
		case "response", "error":
			var rpcResp rpcResponse
			if err := json.Unmarshal(data, &rpcResp); err != nil {
				return nil, fmt.Errorf("mcp: decode sse event: %w", err)
			}
			if rpcResp.Error != nil {
				return nil, rpcResp.Error.callerError()
			}
			return rpcResp.Result, nil
		case "close":
			return nil, errors.New("mcp: sse stream closed without response")
		default:
			continue
		}
	}
}

func readSSEEvent(reader *bufio.Reader) (string, []byte, error) {
	var event string
	var data []byte
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if event == "" && len(data) == 0 {
				continue
			}
			return event, data, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			chunk := after
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, chunk...)
			continue
		}
	}
}
