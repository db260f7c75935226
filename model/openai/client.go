// Package openai adapts model.Gateway onto the OpenAI Chat Completions API
// via github.com/openai/openai-go. It mirrors model/anthropic's shape: a
// thin translation layer with no agent-loop logic of its own (spec.md §1
// Non-goals).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/model"
)

type (
	// ChatClient captures the subset of the OpenAI SDK used here, satisfied
	// by the client's Chat.Completions service so tests can substitute a fake.
	ChatClient interface {
		New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	}

	// Options configures the adapter's defaults.
	Options struct {
		DefaultModel string
		MaxTokens    int
		Temperature  float64
	}

	// Client implements model.Gateway on top of OpenAI Chat Completions.
	Client struct {
		chat         ChatClient
		defaultModel string
		maxTokens    int
		temperature  float64
	}
)

// New builds a Client from a chat-completions client and options.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Complete implements model.Gateway.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepare(req)
	if err != nil {
		return model.Response{}, err
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("openai: chat.completions.new: %w", err)
	}
	return translate(resp), nil
}

// Stream implements model.Gateway the same way model/anthropic.Client does:
// a single non-streaming call replayed as one text-delta plus the terminal
// finish part. Native SSE token streaming is out of scope here for the same
// reason given in model/anthropic (spec.md §1 Non-goals).
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

func (c *Client) prepare(req model.Request) (openai.ChatCompletionNewParams, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: msgs,
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		params.Tools = tools
	}
	if req.ToolChoice != nil {
		params.ToolChoice = encodeToolChoice(*req.ToolChoice)
	}
	return params, nil
}

func encodeMessages(msgs []message.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case message.RoleUser:
			out = append(out, openai.UserMessage(m.Text))
		case message.RoleAssistant:
			asst, err := encodeAssistant(m)
			if err != nil {
				return nil, err
			}
			out = append(out, asst)
		case message.RoleTool:
			for _, p := range m.Parts {
				if p.Type != message.PartToolResult {
					continue
				}
				content := ""
				if p.Output != nil {
					content = string(p.Output.Value)
				}
				out = append(out, openai.ToolMessage(content, p.ToolCallID))
			}
		default:
			return nil, fmt.Errorf("openai: unsupported role %q", m.Role)
		}
	}
	return out, nil
}

func encodeAssistant(m message.Message) (openai.ChatCompletionMessageParamUnion, error) {
	if m.IsPlainText() {
		return openai.AssistantMessage(m.Text), nil
	}
	msg := openai.ChatCompletionAssistantMessageParam{}
	for _, p := range m.Parts {
		switch p.Type {
		case message.PartText:
			msg.Content.OfString = openai.String(msg.Content.OfString.Or("") + p.Text)
		case message.PartToolCall:
			msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: p.ToolCallID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      p.ToolName,
						Arguments: p.Input,
					},
				},
			})
		}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}, nil
}

func encodeTools(defs []model.ToolDecl) ([]openai.ChatCompletionToolUnionParam, error) {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema map[string]any
		if len(d.Schema) > 0 {
			if err := json.Unmarshal(d.Schema, &schema); err != nil {
				return nil, fmt.Errorf("openai: tool %q schema: %w", d.Name, err)
			}
		}
		out = append(out, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  shared.FunctionParameters(schema),
		}))
	}
	return out, nil
}

func encodeToolChoice(tc model.ToolChoice) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch tc.Mode {
	case "none":
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	case "required":
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
	case "tool":
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.Tool},
			},
		}
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	}
}

func translate(resp *openai.ChatCompletion) model.Response {
	var out model.Response
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Text = choice.Message.Content
	if out.Text != "" {
		out.ContentParts = append(out.ContentParts, message.Part{Type: message.PartText, Text: out.Text})
	}
	for _, call := range choice.Message.ToolCalls {
		fn := call.Function
		input, _ := message.CanonicalJSON(json.RawMessage(fn.Arguments))
		if input == "" {
			input = fn.Arguments
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: call.ID, Name: fn.Name, Input: input})
		out.ContentParts = append(out.ContentParts, message.Part{
			Type: message.PartToolCall, ToolCallID: call.ID, ToolName: fn.Name, Input: input,
		})
	}
	out.FinishReason = string(choice.FinishReason)
	out.Usage = model.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	return out
}
