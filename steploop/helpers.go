package steploop

import (
	"github.com/coopersmall/agentruntime/message"
	"github.com/coopersmall/agentruntime/model"
	"github.com/coopersmall/agentruntime/run"
	"github.com/coopersmall/agentruntime/tools"
)

func toolDecls(defs []tools.Def) []model.ToolDecl {
	out := make([]model.ToolDecl, 0, len(defs))
	for _, d := range defs {
		out = append(out, model.ToolDecl{Name: d.Name, Description: d.Description, Schema: d.Schema})
	}
	return out
}

func approvalRequests(parts []message.Part) []message.Part {
	var out []message.Part
	for _, p := range parts {
		if p.Type == message.PartToolApprovalRequest {
			out = append(out, p)
		}
	}
	return out
}

func toSuspensions(parts []message.Part) []run.Suspension {
	out := make([]run.Suspension, 0, len(parts))
	for _, p := range parts {
		out = append(out, run.Suspension{ApprovalID: p.ApprovalID, ToolCallID: p.ToolCallID, ToolName: p.ToolName, Input: p.Input})
	}
	return out
}

func toolCallParts(calls []model.ToolCall) []message.Part {
	out := make([]message.Part, 0, len(calls))
	for _, c := range calls {
		out = append(out, message.Part{Type: message.PartToolCall, ToolCallID: c.ID, ToolName: c.Name, Input: c.Input})
	}
	return out
}

func findToolCall(calls []message.Part, name string) (message.Part, bool) {
	for _, c := range calls {
		if c.ToolName == name {
			return c, true
		}
	}
	return message.Part{}, false
}

// assistantMessage reconstructs the assistant message committed on a
// suspending step (spec.md §4.4 step 5/6: "committing an assistant message
// that reflects the response with empty tool-result list").
func assistantMessage(resp model.Response) message.Message {
	if len(resp.ContentParts) == 0 {
		return message.NewTextMessage(message.RoleAssistant, resp.Text)
	}
	return message.Message{Role: message.RoleAssistant, Parts: resp.ContentParts}
}

// iterationMessages builds the messages appended at the end of a normal
// (non-suspending) step (spec.md §4.4 step 10): an assistant message
// reconstructed from the response, collapsing to a plain string when it
// carries only text, plus a tool message when any tool-results were
// produced.
func iterationMessages(resp model.Response, dispatch tools.DispatchResult) []message.Message {
	var out []message.Message
	if len(resp.ToolCalls) == 0 && len(resp.Reasoning) == 0 {
		out = append(out, message.NewTextMessage(message.RoleAssistant, resp.Text))
	} else {
		parts := make([]message.Part, 0, 1+len(resp.Reasoning)+len(resp.ToolCalls))
		if resp.Text != "" {
			parts = append(parts, message.Part{Type: message.PartText, Text: resp.Text})
		}
		for _, r := range resp.Reasoning {
			parts = append(parts, message.Part{Type: message.PartReasoning, Text: r})
		}
		parts = append(parts, toolCallParts(resp.ToolCalls)...)
		out = append(out, message.Message{Role: message.RoleAssistant, Parts: parts})
	}
	if len(dispatch.Results) > 0 {
		out = append(out, message.Message{Role: message.RoleTool, Parts: dispatch.Results})
	}
	return out
}

// retryMessages builds the assistant/user pair injected when output
// validation fails and a retry is attempted (spec.md §4.4 step 7).
func retryMessages(verr error) []message.Message {
	return []message.Message{
		message.NewTextMessage(message.RoleAssistant, "The structured output did not match the required schema."),
		message.NewTextMessage(message.RoleUser, "Your previous output failed schema validation: "+verr.Error()+". Please call the output tool again with corrected input."),
	}
}
