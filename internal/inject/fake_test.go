package inject

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/standardbeagle/aglink/internal/cdp"
)

type call struct {
	Method              string   `json:"-"`
	ContextID           int      `json:"contextId"`
	Expression          string   `json:"expression"`
	ObjectID            string   `json:"objectId"`
	FunctionDeclaration string   `json:"functionDeclaration"`
	Files               []string `json:"files"`
	BackendNodeID       int      `json:"backendNodeId"`
}

// fakeTarget records calls and answers them through respond. A nil result
// from respond becomes an empty object.
type fakeTarget struct {
	mu       sync.Mutex
	contexts []cdp.ExecutionContext
	calls    []call
	respond  func(c call) (interface{}, error)
}

func (f *fakeTarget) Contexts() []cdp.ExecutionContext { return f.contexts }

func (f *fakeTarget) Call(_ context.Context, _, method string, params interface{}) ([]byte, error) {
	raw, _ := json.Marshal(params)
	var c call
	_ = json.Unmarshal(raw, &c)
	c.Method = method

	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	var res interface{}
	var err error
	if f.respond != nil {
		res, err = f.respond(c)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = map[string]interface{}{}
	}
	return json.Marshal(res)
}

func (f *fakeTarget) evaluations(script string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Method == "Runtime.evaluate" && runs(c, script) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTarget) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}

// runs reports whether an evaluate call invokes script.
func runs(c call, script string) bool {
	return strings.HasPrefix(c.Expression, "("+strings.TrimSpace(script)+")(")
}

func value(v interface{}) map[string]interface{} {
	return map[string]interface{}{"result": map[string]interface{}{"type": "object", "value": v}}
}

func handle(id string) map[string]interface{} {
	return map[string]interface{}{"result": map[string]interface{}{"type": "object", "subtype": "node", "objectId": id}}
}

func null() map[string]interface{} {
	return map[string]interface{}{"result": map[string]interface{}{"type": "object", "subtype": "null", "value": nil}}
}

func contexts(ids ...int) []cdp.ExecutionContext {
	out := make([]cdp.ExecutionContext, len(ids))
	for i, id := range ids {
		out[i] = cdp.ExecutionContext{ID: id}
	}
	return out
}

