package cdp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
)

// Caller is anything that can issue a protocol call. *Conn implements it;
// tests substitute fakes.
type Caller interface {
	Call(ctx context.Context, sessionID, method string, params interface{}) ([]byte, error)
}

// Send issues a typed request and decodes the result into res (which may be
// nil when the result is not needed).
func Send(ctx context.Context, c Caller, req proto.Request, res interface{}) error {
	method := req.ProtoReq()
	raw, err := c.Call(ctx, "", method, req)
	if err != nil {
		return err
	}
	if res == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, res); err != nil {
		return fmt.Errorf("cdp: decode %s result: %w", method, err)
	}
	return nil
}

// RemoteObject is the subset of Runtime.RemoteObject the bridge reads.
type RemoteObject struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	ObjectID    string          `json:"objectId,omitempty"`
	Description string          `json:"description,omitempty"`
}

// IsNull reports whether the object carries no usable value or handle.
func (o *RemoteObject) IsNull() bool {
	if o == nil || o.Type == "undefined" || o.Subtype == "null" {
		return true
	}
	v := bytes.TrimSpace(o.Value)
	return o.ObjectID == "" && (len(v) == 0 || bytes.Equal(v, []byte("null")))
}

// Decode unmarshals a by-value result into v.
func (o *RemoteObject) Decode(v interface{}) error {
	if o == nil || len(o.Value) == 0 {
		return fmt.Errorf("cdp: remote object has no value")
	}
	return json.Unmarshal(o.Value, v)
}

type exceptionDetails struct {
	Text      string        `json:"text"`
	Exception *RemoteObject `json:"exception,omitempty"`
}

type evaluateResult struct {
	Result           RemoteObject      `json:"result"`
	ExceptionDetails *exceptionDetails `json:"exceptionDetails,omitempty"`
}

// EvalOptions controls Runtime.evaluate.
type EvalOptions struct {
	ReturnByValue bool
	AwaitPromise  bool
}

// Evaluate runs expression inside one execution context. An exception thrown
// by the script is returned as *EvaluationError.
func Evaluate(ctx context.Context, c Caller, contextID int, expression string, opts EvalOptions) (*RemoteObject, error) {
	req := proto.RuntimeEvaluate{
		Expression:    expression,
		ContextID:     proto.RuntimeExecutionContextID(contextID),
		ReturnByValue: opts.ReturnByValue,
		AwaitPromise:  opts.AwaitPromise,
	}

	var res evaluateResult
	if err := Send(ctx, c, req, &res); err != nil {
		return nil, err
	}
	if d := res.ExceptionDetails; d != nil {
		text := d.Text
		if d.Exception != nil && d.Exception.Description != "" {
			text = d.Exception.Description
		}
		return nil, &EvaluationError{ContextID: contextID, Text: text}
	}
	return &res.Result, nil
}

// CallFunctionOn invokes declaration with `this` bound to the remote object.
func CallFunctionOn(ctx context.Context, c Caller, objectID, declaration string) error {
	return Send(ctx, c, proto.RuntimeCallFunctionOn{
		FunctionDeclaration: declaration,
		ObjectID:            proto.RuntimeRemoteObjectID(objectID),
	}, nil)
}

// Client is a Caller that also knows the target's execution contexts.
type Client interface {
	Caller
	Contexts() []ExecutionContext
}
