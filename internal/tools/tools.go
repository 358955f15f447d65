// Package tools exposes the bridge as MCP tools.
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/aglink/internal/bridge"
	"github.com/standardbeagle/aglink/internal/inject"
	"github.com/standardbeagle/aglink/internal/snapshot"
)

// Bridge is the part of the bridge the tools drive.
type Bridge interface {
	LastSnapshot() *snapshot.Snapshot
	Targets(ctx context.Context) (bridge.TargetsView, error)
	SelectTarget(ctx context.Context, id string) (bridge.Status, error)
	SendMessage(ctx context.Context, text string) inject.Result
	Click(ctx context.Context, req inject.ClickRequest) inject.Result
	UploadFile(ctx context.Context, path, selector string) inject.Result
}

// Register adds every bridge tool to server.
func Register(server *mcp.Server, b Bridge) {
	mcp.AddTool(server, &mcp.Tool{
		Name: "instances",
		Description: `List inspectable targets on the local debugging ports with their scores.
The active target is marked. Chat-like targets rank first.
Example: instances {} → {active_target_id: "ABC", instances: [{id: "ABC", title: "Antigravity", score: 8, chat: true}]}`,
	}, instancesHandler(b))

	mcp.AddTool(server, &mcp.Tool{
		Name: "select_target",
		Description: `Connect to a specific target by id (from instances).
Selecting the already-active target re-publishes the last snapshot.
Example: select_target {target_id: "ABC"}`,
	}, selectHandler(b))

	mcp.AddTool(server, &mcp.Tool{
		Name: "send_message",
		Description: `Type a message into the chat input of the active target and submit it.
Example: send_message {message: "Summarize the open file"} → {success: true, method: "click_submit"}`,
	}, sendHandler(b))

	mcp.AddTool(server, &mcp.Tool{
		Name: "click",
		Description: `Click an element in the active target.

Give exactly one way to find it, checked in this order:
- selector: CSS selector
- x and y: viewport coordinates
- text (optionally tag): visible text, exact match preferred over contains

Example: click {text: "Accept", tag: "button"}`,
	}, clickHandler(b))

	mcp.AddTool(server, &mcp.Tool{
		Name: "upload_file",
		Description: `Attach a local file to the chat input of the active target.
Example: upload_file {path: "./diagram.png"} → {injected: true, method: "ui_interaction_injection"}`,
	}, uploadHandler(b))

	mcp.AddTool(server, &mcp.Tool{
		Name: "snapshot",
		Description: `Read the latest mirrored chat view.

Formats:
- markdown (default): conversation text as Markdown
- html: raw captured HTML
- meta: theme and colors only`,
	}, snapshotHandler(b))
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// InstancesInput takes no parameters.
type InstancesInput struct{}

// Instance is one discovered target.
type Instance struct {
	ID     string `json:"id"`
	Port   int    `json:"port"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Score  int    `json:"score"`
	Chat   bool   `json:"chat"`
	Active bool   `json:"active"`
}

// InstancesOutput lists targets and the active binding.
type InstancesOutput struct {
	ActiveTargetID string     `json:"active_target_id"`
	ActivePort     int        `json:"active_port"`
	Stage          string     `json:"stage"`
	Instances      []Instance `json:"instances"`
}

func instancesHandler(b Bridge) func(context.Context, *mcp.CallToolRequest, InstancesInput) (*mcp.CallToolResult, InstancesOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ InstancesInput) (*mcp.CallToolResult, InstancesOutput, error) {
		empty := InstancesOutput{Instances: []Instance{}}

		view, err := b.Targets(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("discovery failed: %v", err)), empty, nil
		}

		out := InstancesOutput{
			ActiveTargetID: view.ActiveTargetID,
			ActivePort:     view.ActivePort,
			Stage:          view.Stage,
			Instances:      make([]Instance, 0, len(view.Instances)),
		}
		for _, s := range view.Instances {
			out.Instances = append(out.Instances, Instance{
				ID:     s.ID,
				Port:   s.Port,
				Title:  s.Title,
				URL:    s.PageURL,
				Score:  s.Score,
				Chat:   s.Chat,
				Active: s.ID == view.ActiveTargetID,
			})
		}
		return nil, out, nil
	}
}

// SelectInput names the target to connect to.
type SelectInput struct {
	TargetID string `json:"target_id" jsonschema:"Target id from the instances tool"`
}

// StatusOutput is the binding after a selection.
type StatusOutput struct {
	ActiveTargetID string `json:"active_target_id"`
	ActivePort     int    `json:"active_port"`
	ActiveTitle    string `json:"active_title"`
	Stage          string `json:"stage"`
}

func selectHandler(b Bridge) func(context.Context, *mcp.CallToolRequest, SelectInput) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SelectInput) (*mcp.CallToolResult, StatusOutput, error) {
		if input.TargetID == "" {
			return errorResult("Missing required parameter: target_id"), StatusOutput{}, nil
		}
		st, err := b.SelectTarget(ctx, input.TargetID)
		if err != nil {
			return errorResult(fmt.Sprintf("select %s: %v", input.TargetID, err)), StatusOutput{}, nil
		}
		return nil, StatusOutput{
			ActiveTargetID: st.ActiveTargetID,
			ActivePort:     st.ActivePort,
			ActiveTitle:    st.ActiveTitle,
			Stage:          st.Stage,
		}, nil
	}
}

// CommandOutput reports an injection outcome.
type CommandOutput struct {
	Success bool   `json:"success"`
	Method  string `json:"method,omitempty"`
	Target  string `json:"target,omitempty"`
}

func commandResult(action string, r inject.Result) (*mcp.CallToolResult, CommandOutput, error) {
	if !r.OK {
		return errorResult(fmt.Sprintf("%s failed: %s", action, r.Reason)), CommandOutput{}, nil
	}
	return nil, CommandOutput{Success: true, Method: r.Method, Target: r.Target}, nil
}

// SendInput is the message to submit.
type SendInput struct {
	Message string `json:"message" jsonschema:"Text to type into the chat input"`
}

func sendHandler(b Bridge) func(context.Context, *mcp.CallToolRequest, SendInput) (*mcp.CallToolResult, CommandOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SendInput) (*mcp.CallToolResult, CommandOutput, error) {
		if input.Message == "" {
			return errorResult("Missing required parameter: message"), CommandOutput{}, nil
		}
		return commandResult("send", b.SendMessage(ctx, input.Message))
	}
}

// ClickInput locates the element to click.
type ClickInput struct {
	Selector string   `json:"selector,omitempty" jsonschema:"CSS selector"`
	Text     string   `json:"text,omitempty" jsonschema:"Visible text of the element"`
	Tag      string   `json:"tag,omitempty" jsonschema:"Tag name to restrict a text match"`
	X        *float64 `json:"x,omitempty" jsonschema:"Viewport x coordinate"`
	Y        *float64 `json:"y,omitempty" jsonschema:"Viewport y coordinate"`
}

func clickHandler(b Bridge) func(context.Context, *mcp.CallToolRequest, ClickInput) (*mcp.CallToolResult, CommandOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ClickInput) (*mcp.CallToolResult, CommandOutput, error) {
		hasPoint := input.X != nil && input.Y != nil
		if input.Selector == "" && input.Text == "" && !hasPoint {
			return errorResult("Provide selector, text, or both x and y"), CommandOutput{}, nil
		}
		return commandResult("click", b.Click(ctx, inject.ClickRequest{
			Selector: input.Selector,
			Text:     input.Text,
			Tag:      input.Tag,
			X:        input.X,
			Y:        input.Y,
		}))
	}
}

// UploadInput names the file to attach.
type UploadInput struct {
	Path     string `json:"path" jsonschema:"Local file path"`
	Selector string `json:"selector,omitempty" jsonschema:"CSS selector of a file input to use directly"`
}

// UploadOutput reports an attachment.
type UploadOutput struct {
	Path     string `json:"path"`
	Injected bool   `json:"injected"`
	Method   string `json:"method,omitempty"`
}

func uploadHandler(b Bridge) func(context.Context, *mcp.CallToolRequest, UploadInput) (*mcp.CallToolResult, UploadOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input UploadInput) (*mcp.CallToolResult, UploadOutput, error) {
		if input.Path == "" {
			return errorResult("Missing required parameter: path"), UploadOutput{}, nil
		}
		path, err := filepath.Abs(input.Path)
		if err != nil {
			return errorResult(fmt.Sprintf("resolve path: %v", err)), UploadOutput{}, nil
		}
		if _, err := os.Stat(path); err != nil {
			return errorResult(fmt.Sprintf("file not found: %s", path)), UploadOutput{}, nil
		}

		r := b.UploadFile(ctx, path, input.Selector)
		if !r.OK {
			return errorResult(fmt.Sprintf("upload failed: %s", r.Reason)), UploadOutput{Path: path}, nil
		}
		return nil, UploadOutput{Path: path, Injected: true, Method: r.Method}, nil
	}
}

// SnapshotInput selects the rendition.
type SnapshotInput struct {
	Format string `json:"format,omitempty" jsonschema:"markdown, html or meta"`
}

// SnapshotOutput carries one rendition of the latest snapshot.
type SnapshotOutput struct {
	Format  string         `json:"format"`
	Content string         `json:"content,omitempty"`
	Meta    *snapshot.Meta `json:"meta,omitempty"`
}

func snapshotHandler(b Bridge) func(context.Context, *mcp.CallToolRequest, SnapshotInput) (*mcp.CallToolResult, SnapshotOutput, error) {
	return func(_ context.Context, _ *mcp.CallToolRequest, input SnapshotInput) (*mcp.CallToolResult, SnapshotOutput, error) {
		snap := b.LastSnapshot()
		if snap == nil {
			return errorResult("No snapshot available yet"), SnapshotOutput{}, nil
		}

		format := input.Format
		if format == "" {
			format = "markdown"
		}

		switch format {
		case "markdown":
			md, err := snap.Markdown()
			if err != nil {
				return errorResult(fmt.Sprintf("convert to markdown: %v", err)), SnapshotOutput{}, nil
			}
			return nil, SnapshotOutput{Format: format, Content: md}, nil
		case "html":
			return nil, SnapshotOutput{Format: format, Content: snap.HTML}, nil
		case "meta":
			meta := snap.Meta()
			return nil, SnapshotOutput{Format: format, Meta: &meta}, nil
		default:
			return errorResult(fmt.Sprintf("Unknown format: %s. Valid formats: markdown, html, meta", format)), SnapshotOutput{}, nil
		}
	}
}
