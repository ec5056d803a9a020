package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/remote-agent-hub/backend/internal/dispatch"
	"github.com/remote-agent-hub/backend/internal/model"
)

// Defaults applied by the command surface when an argument is omitted.
const (
	DefaultBackgroundColor = "lightblue"
	DefaultWaitTimeoutMs   = 5000
)

// Target selects the recipients of a command: exactly one of AgentID,
// Group or All. Exclude is skipped by group and all-agent sends.
type Target struct {
	AgentID string `json:"agent_id,omitempty"`
	Group   string `json:"group,omitempty"`
	All     bool   `json:"all,omitempty"`
	Exclude string `json:"exclude,omitempty"`
}

func (t Target) validate() error {
	n := 0
	if t.AgentID != "" {
		n++
	}
	if t.Group != "" {
		n++
	}
	if t.All {
		n++
	}
	switch n {
	case 0:
		return fmt.Errorf("%w: agent id, group or all is required", model.ErrMissingRequiredArgument)
	case 1:
		return nil
	default:
		return fmt.Errorf("%w: exactly one of agent id, group or all must be set", model.ErrMissingRequiredArgument)
	}
}

func (t Target) String() string {
	switch {
	case t.AgentID != "":
		return "agent " + t.AgentID
	case t.Group != "":
		return "group " + t.Group
	default:
		return "all agents"
	}
}

// ErrorDetail is the structured form of a failed operation.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorDetail converts err into its structured form.
func NewErrorDetail(err error) *ErrorDetail {
	return &ErrorDetail{Code: model.ErrorCode(err), Message: err.Error()}
}

// CommandResult is what every command returns to its caller. Commands never
// wait for the agent: success only means the envelope was written.
type CommandResult struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message,omitempty"`
	Delivered int          `json:"delivered"`
	Failed    []string     `json:"failed,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

func failure(err error) CommandResult {
	return CommandResult{Error: NewErrorDetail(err)}
}

func required(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s", model.ErrMissingRequiredArgument, name)
	}
	return nil
}

// Navigate asks the target to load url.
func (h *Hub) Navigate(ctx context.Context, t Target, url string) CommandResult {
	if err := required("url", url); err != nil {
		return failure(err)
	}
	return h.issue(ctx, t, fmt.Sprintf("Navigation request sent to %s: %s", t, url),
		model.MessageTypeNavigateTo, url)
}

// Click asks the target to click the element matching selector.
func (h *Hub) Click(ctx context.Context, t Target, selector string) CommandResult {
	if err := required("selector", selector); err != nil {
		return failure(err)
	}
	return h.issue(ctx, t, fmt.Sprintf("Click request sent to %s for selector: %s", t, selector),
		model.MessageTypeClickElement, selector)
}

// TypeText asks the target to type text into the element matching selector.
func (h *Hub) TypeText(ctx context.Context, t Target, selector, text string) CommandResult {
	if err := errors.Join(required("selector", selector), required("text", text)); err != nil {
		return failure(err)
	}
	return h.issue(ctx, t, fmt.Sprintf("Type text request sent to %s: %s into %s", t, text, selector),
		model.MessageTypeTypeText, selector, text)
}

// FillForm asks the target to fill a form; formData maps selectors to values.
func (h *Hub) FillForm(ctx context.Context, t Target, formData map[string]any) CommandResult {
	if len(formData) == 0 {
		return failure(fmt.Errorf("%w: form data", model.ErrMissingRequiredArgument))
	}
	return h.issue(ctx, t, fmt.Sprintf("Form fill request sent to %s", t),
		model.MessageTypeFillForm, formData)
}

// WaitForElement asks the target to wait up to timeoutMs for selector to appear.
// A non-positive timeout uses DefaultWaitTimeoutMs.
func (h *Hub) WaitForElement(ctx context.Context, t Target, selector string, timeoutMs int) CommandResult {
	if err := required("selector", selector); err != nil {
		return failure(err)
	}
	if timeoutMs <= 0 {
		timeoutMs = DefaultWaitTimeoutMs
	}
	return h.issue(ctx, t, fmt.Sprintf("Waiting for element: %s in %s (timeout: %dms)", selector, t, timeoutMs),
		model.MessageTypeWaitForElement, selector, timeoutMs)
}

// ExtractTable asks the target to extract the table matching selector.
func (h *Hub) ExtractTable(ctx context.Context, t Target, selector string) CommandResult {
	if err := required("selector", selector); err != nil {
		return failure(err)
	}
	return h.issue(ctx, t, fmt.Sprintf("Extracting table data from selector: %s in %s", selector, t),
		model.MessageTypeExtractTable, selector)
}

// TakeScreenshot asks the target for a screenshot of the page, or of the
// element matching selector when one is given.
func (h *Hub) TakeScreenshot(ctx context.Context, t Target, selector string) CommandResult {
	if selector == "" {
		return h.issue(ctx, t, fmt.Sprintf("Taking screenshot in %s", t),
			model.MessageTypeTakeScreenshot)
	}
	return h.issue(ctx, t, fmt.Sprintf("Taking screenshot of element: %s in %s", selector, t),
		model.MessageTypeTakeScreenshot, selector)
}

// GetElementInfo asks the target to report on the element matching selector.
func (h *Hub) GetElementInfo(ctx context.Context, t Target, selector string) CommandResult {
	if err := required("selector", selector); err != nil {
		return failure(err)
	}
	return h.issue(ctx, t, fmt.Sprintf("Getting element info for selector: %s in %s", selector, t),
		model.MessageTypeGetElementInfo, selector)
}

// ChangeBackground asks the target to change the page background.
// An empty color uses DefaultBackgroundColor.
func (h *Hub) ChangeBackground(ctx context.Context, t Target, color string) CommandResult {
	if color == "" {
		color = DefaultBackgroundColor
	}
	return h.issue(ctx, t, fmt.Sprintf("Background color change request sent to %s: %s", t, color),
		model.MessageTypeChangeBackground, color)
}

// issue validates the target, builds the envelope and hands it to the dispatcher.
func (h *Hub) issue(ctx context.Context, t Target, message string, msgType model.MessageType, args ...any) CommandResult {
	if err := t.validate(); err != nil {
		return failure(err)
	}
	env, err := model.NewEnvelope(msgType, args...)
	if err != nil {
		return failure(err)
	}

	if t.AgentID != "" {
		if err := h.dispatcher.SendTo(ctx, t.AgentID, env); err != nil {
			h.logger.Info("command not delivered", "type", msgType, "agent", t.AgentID, "error", err)
			res := failure(err)
			if errors.Is(err, model.ErrTransportSendFailure) {
				res.Failed = []string{t.AgentID}
			}
			return res
		}
		return CommandResult{Success: true, Message: message, Delivered: 1}
	}

	var report dispatch.Report
	if t.Group != "" {
		report, err = h.dispatcher.BroadcastToGroup(ctx, t.Group, env, t.Exclude)
	} else {
		report, err = h.dispatcher.Broadcast(ctx, env, t.Exclude)
	}
	if err != nil {
		return failure(err)
	}

	res := CommandResult{
		Success:   len(report.Failed) == 0,
		Message:   message,
		Delivered: report.Delivered,
		Failed:    report.Failed,
	}
	if !res.Success {
		res.Error = NewErrorDetail(fmt.Errorf("%w: %d of %d recipients",
			model.ErrTransportSendFailure, len(report.Failed), len(report.Failed)+report.Delivered))
	}
	return res
}
