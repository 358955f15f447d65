package cdp

import (
	"errors"
	"fmt"
)

// ErrClosed is returned for calls on a connection whose socket has gone away.
var ErrClosed = errors.New("cdp: connection closed")

// ConnectionError reports a failed socket open or handshake.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cdp: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is the error payload of a response. It never tears the
// connection down.
type ProtocolError struct {
	Method  string `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("cdp: %s: %s (%d): %s", e.Method, e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("cdp: %s: %s (%d)", e.Method, e.Message, e.Code)
}

// EvaluationError is an exception thrown by a script evaluated in a remote
// execution context.
type EvaluationError struct {
	ContextID int
	Text      string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("cdp: evaluate in context %d: %s", e.ContextID, e.Text)
}
