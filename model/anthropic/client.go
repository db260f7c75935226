// Package anthropic adapts model.Gateway onto the Anthropic Claude Messages
// API via github.com/anthropics/anthropic-sdk-go. It is one of two concrete
// completions-gateway adapters (see model/openai for the other); per
// spec.md §1 Non-goals, it is a thin translation layer with no agent-loop
// logic of its own.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/model"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK used here,
	// satisfied by *sdk.MessageService so tests can substitute a fake.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the adapter's defaults.
	Options struct {
		DefaultModel string
		MaxTokens    int
		Temperature  float64
	}

	// Client implements model.Gateway on top of Anthropic Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTokens    int
		temperature  float64
	}
)

// New builds a Client from an Anthropic messages client and options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTokens: maxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Messages, Options{DefaultModel: defaultModel})
}

// Complete implements model.Gateway.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepare(req)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	return translate(msg), nil
}

// Stream implements model.Gateway by issuing a non-streaming call and
// replaying it as a single text-delta followed by the terminal finish part.
// The Anthropic SDK's native SSE streaming is consumed identically by
// model/openai's adapter at the Response level, so this keeps both
// adapters' observable Stream behavior uniform without duplicating the
// vendor-specific event-translation logic (out of scope per spec.md §1).
func (c *Client) Stream(ctx context.Context, req model.Request, fn func(model.StreamPart) error) error {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}
	if resp.Text != "" {
		if err := fn(model.StreamPart{Kind: model.StreamPartTextDelta, Text: resp.Text}); err != nil {
			return err
		}
	}
	r := resp
	return fn(model.StreamPart{Kind: model.StreamPartFinish, Final: &r})
}

func (c *Client) prepare(req model.Request) (sdk.MessageNewParams, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(c.maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return sdk.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if req.ToolChoice != nil {
		params.ToolChoice = encodeToolChoice(*req.ToolChoice)
	}
	return params, nil
}

func encodeMessages(msgs []message.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam
	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			if m.Text != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Text})
			}
			continue
		}
		blocks, err := encodeParts(m)
		if err != nil {
			return nil, nil, err
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case message.RoleUser, message.RoleTool:
			out = append(out, sdk.NewUserMessage(blocks...))
		case message.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	return out, system, nil
}

func encodeParts(m message.Message) ([]sdk.ContentBlockParamUnion, error) {
	if m.IsPlainText() {
		if m.Text == "" {
			return nil, nil
		}
		return []sdk.ContentBlockParamUnion{sdk.NewTextBlock(m.Text)}, nil
	}
	blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case message.PartText, message.PartReasoning:
			if p.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(p.Text))
			}
		case message.PartToolCall:
			var input any
			if p.Input != "" {
				if err := json.Unmarshal([]byte(p.Input), &input); err != nil {
					return nil, fmt.Errorf("anthropic: decode tool-call input: %w", err)
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(p.ToolCallID, input, p.ToolName))
		case message.PartToolResult:
			content := ""
			if p.Output != nil {
				content = string(p.Output.Value)
			}
			blocks = append(blocks, sdk.NewToolResultBlock(p.ToolCallID, content, p.IsError))
		}
	}
	return blocks, nil
}

func encodeTools(defs []model.ToolDecl) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema map[string]any
		if len(d.Schema) > 0 {
			if err := json.Unmarshal(d.Schema, &schema); err != nil {
				return nil, fmt.Errorf("anthropic: tool %q schema: %w", d.Name, err)
			}
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, d.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(d.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func encodeToolChoice(tc model.ToolChoice) sdk.ToolChoiceUnionParam {
	switch tc.Mode {
	case "none":
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}
	case "required":
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}
	case "tool":
		return sdk.ToolChoiceUnionParam{OfTool: &sdk.ToolChoiceToolParam{Name: tc.Tool}}
	default:
		return sdk.ToolChoiceUnionParam{}
	}
}

func translate(msg *sdk.Message) model.Response {
	var resp model.Response
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case sdk.TextBlock:
			resp.Text += variant.Text
			resp.ContentParts = append(resp.ContentParts, message.Part{Type: message.PartText, Text: variant.Text})
		case sdk.ToolUseBlock:
			input, _ := message.CanonicalJSON(variant.Input)
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{ID: variant.ID, Name: variant.Name, Input: input})
			resp.ContentParts = append(resp.ContentParts, message.Part{
				Type: message.PartToolCall, ToolCallID: variant.ID, ToolName: variant.Name, Input: input,
			})
		}
	}
	resp.FinishReason = string(msg.StopReason)
	resp.Usage = model.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return resp
}
