// Package message defines the conversation data model shared by the step
// loop (C4), the tool harness (C3), and the suspension resumer (C5): tagged
// role variants, ordered content parts, and the canonical tool-call input/
// output encodings described in spec.md §3.
package message

import (
	"bytes"
	"encoding/json"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// PartType tags the concrete kind of a Part.
type PartType string

const (
	PartText                PartType = "text"
	PartReasoning           PartType = "reasoning"
	PartToolCall            PartType = "tool-call"
	PartToolResult          PartType = "tool-result"
	PartFile                PartType = "file"
	PartSource               PartType = "source"
	PartToolApprovalRequest PartType = "tool-approval-request"
)

// ToolOutputType tags how a tool-result's value should be interpreted.
type ToolOutputType string

const (
	ToolOutputText      ToolOutputType = "text"
	ToolOutputJSON      ToolOutputType = "json"
	ToolOutputErrorText ToolOutputType = "error-text"
	ToolOutputErrorJSON ToolOutputType = "error-json"
	ToolOutputContent   ToolOutputType = "content"
)

type (
	// Message is one turn of conversation. Content is either a plain string
	// (Text non-empty, Parts nil) or an ordered sequence of Parts.
	Message struct {
		Role  Role
		Text  string
		Parts []Part
	}

	// Part is one content block within a message. Exactly the fields
	// relevant to Type are populated; this mirrors the teacher's tagged-part
	// pattern (model.Part) without requiring one Go type per part kind,
	// which keeps canonical-JSON round-tripping (spec.md §8 "round-trip of
	// messages") in a single struct.
	Part struct {
		Type PartType

		// Text carries PartText/PartReasoning content.
		Text string

		// ToolCallID identifies the tool call for PartToolCall/PartToolResult/
		// PartToolApprovalRequest parts.
		ToolCallID string
		// ToolName identifies the tool for PartToolCall/PartToolResult/
		// PartToolApprovalRequest parts.
		ToolName string
		// Input is the canonical JSON-encoded tool-call argument string
		// (PartToolCall only). Canonical means: map keys sorted, no
		// insignificant whitespace, so two logically-equal inputs serialize
		// identically (spec.md §8 round-trip invariant).
		Input string

		// Output carries a PartToolResult's typed result.
		Output *ToolOutput
		// IsError reports whether a PartToolResult represents a failure.
		IsError bool

		// ApprovalID identifies a PartToolApprovalRequest's suspension.
		ApprovalID string

		// File/source fields (PartFile/PartSource).
		URL         string
		MediaType   string
		SourceID    string
	}

	// ToolOutput is a tool-result's typed value.
	ToolOutput struct {
		Type  ToolOutputType
		Value json.RawMessage
	}
)

// NewTextMessage builds a plain-text message, collapsing to the string form
// described in spec.md §4.4 step 10 ("a single-text assistant collapses to a
// plain string").
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Text: text}
}

// IsPlainText reports whether m has no structured parts, only a Text string.
func (m Message) IsPlainText() bool {
	return len(m.Parts) == 0
}

// ToolApprovalRequests returns every PartToolApprovalRequest part in m, in
// order. Per SPEC_FULL.md open-question decision D.1, all are harvested; the
// step loop does not stop at the first one.
func (m Message) ToolApprovalRequests() []Part {
	var out []Part
	for _, p := range m.Parts {
		if p.Type == PartToolApprovalRequest {
			out = append(out, p)
		}
	}
	return out
}

// CanonicalJSON re-encodes an arbitrary JSON value into its canonical form:
// object keys sorted (the value is decoded into generic maps, whose keys
// Go's encoding/json sorts on encode), no insignificant whitespace. It is
// used to store tool-call inputs so that equal logical inputs serialize
// identically, per the round-trip invariant in spec.md §8.
func CanonicalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", err
	}
	b, err = json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// TextOutput builds a {type: text} tool-result output from a string value.
func TextOutput(s string) *ToolOutput {
	return &ToolOutput{Type: ToolOutputText, Value: json.RawMessage(`"` + jsonEscape(s) + `"`)}
}

// JSONOutput builds a {type: json} tool-result output by marshaling v.
func JSONOutput(v any) (*ToolOutput, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &ToolOutput{Type: ToolOutputJSON, Value: b}, nil
}

// ErrorJSONOutput builds an {type: error-json} tool-result output carrying
// an {error, code} envelope, per spec.md §4.3 step 5.
func ErrorJSONOutput(errMsg, code string) *ToolOutput {
	b, _ := json.Marshal(map[string]string{"error": errMsg, "code": code})
	return &ToolOutput{Type: ToolOutputErrorJSON, Value: b}
}

// ErrorTextOutput builds an {type: error-text} tool-result output, used for
// the synthetic "unknown tool" result in spec.md §4.3 step 1.
func ErrorTextOutput(s string) *ToolOutput {
	return &ToolOutput{Type: ToolOutputErrorText, Value: json.RawMessage(`"` + jsonEscape(s) + `"`)}
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	// Marshal wraps with quotes; strip them since callers add their own.
	if len(b) >= 2 {
		return string(b[1 : len(b)-1])
	}
	return s
}
