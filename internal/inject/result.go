// Package inject drives the target's UI by evaluating scripts inside its
// execution contexts: typing and sending messages, clicking elements and
// attaching files.
//
// Every operation returns a Result. Failures are reported through
// Result.Reason and never as errors.
package inject

// Result is the outcome of one operation.
type Result struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Target string `json:"target,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Success method tags.
const (
	MethodClickSubmit   = "click_submit"
	MethodEnterKeypress = "enter_keypress"
	MethodSelectorHit   = "selector_hit"
	MethodCoordinateHit = "coordinate_hit"
	MethodTextHit       = "text_hit"
	MethodUIInjection   = "ui_interaction_injection"
	MethodDirectInput   = "direct_input_injection"
)

// Failure reasons.
const (
	ReasonEmptyMessage      = "empty_message"
	ReasonEditorNotFound    = "editor_not_found"
	ReasonNoContext         = "no_context"
	ReasonElementNotFound   = "element_not_found"
	ReasonUINotFound        = "ui_not_found"
	ReasonInputNotFound     = "input_not_found"
	ReasonInputNotInvokable = "input_not_invokable"
	ReasonInjectionError    = "injection_error"
	ReasonFileNotFound      = "file_not_found"
	ReasonNotConnected      = "not_connected"
)

// Fail returns a failed Result.
func Fail(reason string) Result {
	return Result{Reason: reason}
}
