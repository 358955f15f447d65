package inject

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"github.com/go-rod/rod/lib/proto"

	"github.com/standardbeagle/aglink/internal/cdp"
	"github.com/standardbeagle/aglink/internal/scripts"
)

// eventSource is implemented by connections that deliver notifications.
type eventSource interface {
	Subscribe(method string) (<-chan json.RawMessage, func())
}

// UploadFile attaches a local file to the chat input. It first drives the
// app's attach menu; when that entry point is missing, or the menu never
// yields a usable input, it sets files on any file input it can find.
func (e *Engine) UploadFile(ctx context.Context, c cdp.Client, path, selector string) Result {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Fail(ReasonFileNotFound)
	}
	if fi, err := os.Stat(abs); err != nil || fi.IsDir() {
		return Fail(ReasonFileNotFound)
	}
	log.Printf("[INFO] [inject] uploading %s (selector: %q)", abs, selector)

	e.prepareUpload(ctx, c)

	direct := Strategy{
		Name: "direct_input",
		Run: func(ctx context.Context, ec cdp.ExecutionContext) (Result, error) {
			r, err := e.setFiles(ctx, c, ec.ID, abs, selector)
			if r.OK {
				r.Method = MethodDirectInput
			}
			return r, err
		},
	}

	entry, found := e.findUploadEntry(ctx, c)
	if !found {
		if ctx.Err() != nil {
			return Fail(ReasonInjectionError)
		}
		if r := FirstSuccess(ctx, c.Contexts(), direct); r.OK {
			return r
		}
		return Fail(ReasonUINotFound)
	}

	if r := e.uploadViaMenu(ctx, c, entry, abs, selector); r.OK {
		return r
	}
	if ctx.Err() != nil {
		return Fail(ReasonInjectionError)
	}

	if r := FirstSuccess(ctx, c.Contexts(), direct); r.OK {
		return r
	}
	return Fail(ReasonInputNotInvokable)
}

// prepareUpload enables the domains file assignment needs. Failures are not
// fatal: the target may already have them enabled or not support them.
func (e *Engine) prepareUpload(ctx context.Context, c cdp.Caller) {
	for _, req := range []proto.Request{
		proto.PageEnable{},
		proto.DOMEnable{},
		proto.PageSetInterceptFileChooserDialog{Enabled: true},
	} {
		if err := cdp.Send(ctx, c, req, nil); err != nil {
			log.Printf("[WARN] [inject] %s: %v", req.ProtoReq(), err)
		}
	}
}

func (e *Engine) findUploadEntry(ctx context.Context, c cdp.Client) (cdp.ExecutionContext, bool) {
	expr := scripts.Invoke(scripts.UploadEntry)
	for _, ec := range c.Contexts() {
		obj, err := cdp.Evaluate(ctx, c, ec.ID, expr, cdp.EvalOptions{ReturnByValue: true})
		if err != nil {
			log.Printf("[DEBUG] [inject] upload entry probe in context %d: %v", ec.ID, err)
			continue
		}
		var has bool
		if obj.Decode(&has) == nil && has {
			return ec, true
		}
	}
	return cdp.ExecutionContext{}, false
}

func (e *Engine) uploadViaMenu(ctx context.Context, c cdp.Client, ec cdp.ExecutionContext, path, selector string) Result {
	var chooser <-chan json.RawMessage
	if src, ok := c.(eventSource); ok {
		ch, cancel := src.Subscribe(cdp.EventFileChooserOpened)
		defer cancel()
		chooser = ch
	}

	log.Printf("[DEBUG] [inject] context %d has the attach menu, opening it", ec.ID)
	expr := scripts.Invoke(scripts.UploadMenu, e.opts.MenuSettle.Milliseconds())
	obj, err := cdp.Evaluate(ctx, c, ec.ID, expr, cdp.EvalOptions{ReturnByValue: true, AwaitPromise: true})
	if err != nil {
		log.Printf("[WARN] [inject] attach menu: %v", err)
	} else {
		var outcome string
		_ = obj.Decode(&outcome)
		log.Printf("[DEBUG] [inject] attach menu: %s", outcome)
	}

	for attempt := 0; attempt < e.opts.InputAttempts; attempt++ {
		select {
		case params := <-chooser:
			if e.fillChooser(ctx, c, params, path) {
				return Result{OK: true, Method: MethodUIInjection}
			}
		default:
		}

		r, err := e.setFiles(ctx, c, ec.ID, path, selector)
		if err == nil && r.OK {
			r.Method = MethodUIInjection
			return r
		}

		if sleep(ctx, e.opts.InputBackoff) != nil {
			return Fail(ReasonInjectionError)
		}
	}
	return Fail(ReasonInputNotInvokable)
}

// fillChooser answers an intercepted file chooser by assigning the file to
// the input element that opened it.
func (e *Engine) fillChooser(ctx context.Context, c cdp.Caller, params json.RawMessage, path string) bool {
	var ev proto.PageFileChooserOpened
	if err := json.Unmarshal(params, &ev); err != nil || ev.BackendNodeID == 0 {
		return false
	}

	var resolved struct {
		Object cdp.RemoteObject `json:"object"`
	}
	if err := cdp.Send(ctx, c, proto.DOMResolveNode{BackendNodeID: ev.BackendNodeID}, &resolved); err != nil {
		log.Printf("[DEBUG] [inject] resolve chooser node: %v", err)
		return false
	}
	if resolved.Object.ObjectID == "" {
		return false
	}
	if err := assignFiles(ctx, c, resolved.Object.ObjectID, path); err != nil {
		log.Printf("[DEBUG] [inject] chooser assignment: %v", err)
		return false
	}
	return true
}

// setFiles tags a file input in one context, resolves it to a handle and
// assigns path to it.
func (e *Engine) setFiles(ctx context.Context, c cdp.Caller, contextID int, path, selector string) (Result, error) {
	marker := e.newMarker()
	tagged, err := cdp.Evaluate(ctx, c, contextID, scripts.Invoke(scripts.TagInput, map[string]string{
		"selector": selector,
		"marker":   marker,
	}), cdp.EvalOptions{ReturnByValue: true})
	if err != nil {
		return Result{}, err
	}
	var got string
	if tagged.IsNull() || tagged.Decode(&got) != nil || got == "" {
		return Fail(ReasonInputNotFound), nil
	}

	handle, err := cdp.Evaluate(ctx, c, contextID, scripts.Invoke(scripts.FindMarked, got), cdp.EvalOptions{})
	if err != nil || handle.ObjectID == "" {
		return Fail(ReasonInputNotInvokable), nil
	}
	if err := assignFiles(ctx, c, handle.ObjectID, path); err != nil {
		log.Printf("[DEBUG] [inject] assign files in context %d: %v", contextID, err)
		return Fail(ReasonInputNotInvokable), nil
	}
	return Result{OK: true}, nil
}

// assignFiles sets the file list and notifies the page the way a user pick
// would, resetting React's value tracker so the change is not swallowed.
func assignFiles(ctx context.Context, c cdp.Caller, objectID, path string) error {
	if err := cdp.Send(ctx, c, proto.DOMSetFileInputFiles{
		Files:    []string{path},
		ObjectID: proto.RuntimeRemoteObjectID(objectID),
	}, nil); err != nil {
		return err
	}
	return cdp.CallFunctionOn(ctx, c, objectID, scripts.DispatchFiles)
}
