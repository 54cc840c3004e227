// ABOUTME: UserInput tagged union for the /stream request payload: message, deferred_tools, scheduled.
// ABOUTME: Custom unmarshal over the "kind" discriminator plus approval decision parsing.
package protocol

import (
	"encoding/json"
	"fmt"
)

// UserInput kinds.
const (
	InputKindMessage       = "message"
	InputKindDeferredTools = "deferred_tools"
	InputKindScheduled     = "scheduled"
)

// Attachment is an image or file attached to a user message.
type Attachment struct {
	DataURI   string `json:"data_uri"`
	MediaType string `json:"media_type"`
	Filename  string `json:"filename,omitempty"`
}

// ClientContext carries optional per-request client hints.
type ClientContext struct {
	CWD      string `json:"cwd,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Model    string `json:"model,omitempty"`
}

// ApprovalDecision is the client's verdict on one deferred tool call. The
// wire form is either a bare boolean or an object.
type ApprovalDecision struct {
	Approved     bool           `json:"approved"`
	OverrideArgs map[string]any `json:"override_args,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// UnmarshalJSON accepts `true`/`false` shorthand as well as the object form.
func (d *ApprovalDecision) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		d.Approved = b
		d.OverrideArgs = nil
		d.Message = ""
		return nil
	}
	type plain ApprovalDecision
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("approval decision must be a boolean or an object: %w", err)
	}
	*d = ApprovalDecision(p)
	return nil
}

// UserInput is the tagged input union for one /stream request.
type UserInput struct {
	Kind string `json:"kind"`

	// message
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// deferred_tools
	Approvals map[string]ApprovalDecision `json:"approvals,omitempty"`
	Calls     map[string]any              `json:"calls,omitempty"`

	// scheduled
	Prompt         string         `json:"prompt,omitempty"`
	TriggerContext map[string]any `json:"trigger_context,omitempty"`

	ClientContext *ClientContext `json:"client_context,omitempty"`
}

// Validate checks the discriminator and the per-kind required fields.
func (u *UserInput) Validate() error {
	switch u.Kind {
	case InputKindMessage:
		if u.Content == "" && len(u.Attachments) == 0 {
			return fmt.Errorf("message input requires content or attachments")
		}
	case InputKindDeferredTools:
		if len(u.Approvals) == 0 && len(u.Calls) == 0 {
			return fmt.Errorf("deferred_tools input requires approvals or calls")
		}
	case InputKindScheduled:
		if u.Prompt == "" {
			return fmt.Errorf("scheduled input requires a prompt")
		}
	case "":
		return fmt.Errorf("user_input missing kind")
	default:
		return fmt.Errorf("unknown user_input kind: %q", u.Kind)
	}
	return nil
}

// PromptText returns the text that seeds the first turn for message and
// scheduled inputs; empty for deferred_tools.
func (u *UserInput) PromptText() string {
	switch u.Kind {
	case InputKindMessage:
		return u.Content
	case InputKindScheduled:
		return u.Prompt
	}
	return ""
}
