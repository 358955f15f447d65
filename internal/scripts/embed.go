// Package scripts provides the JavaScript evaluated inside the target.
//
// Each file holds a single function expression. Invoke builds a self-calling
// expression from it so arguments travel as JSON rather than being spliced
// into source text.
package scripts

import (
	_ "embed"
	"encoding/json"
	"strings"
)

var (
	//go:embed capture.js
	Capture string

	//go:embed send.js
	Send string

	//go:embed click.js
	Click string

	//go:embed upload_entry.js
	UploadEntry string

	//go:embed upload_menu.js
	UploadMenu string

	//go:embed tag_input.js
	TagInput string

	//go:embed find_marked.js
	FindMarked string

	// DispatchFiles is a function declaration for Runtime.callFunctionOn with
	// `this` bound to a file input.
	//go:embed dispatch_files.js
	DispatchFiles string

	//go:embed probe.js
	Probe string
)

// Invoke returns an expression calling fn with args. Arguments that cannot be
// encoded are passed as null.
func Invoke(fn string, args ...interface{}) string {
	var sb strings.Builder
	sb.WriteString("(")
	sb.WriteString(strings.TrimSpace(fn))
	sb.WriteString(")(")
	for i, arg := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		data, err := json.Marshal(arg)
		if err != nil {
			data = []byte("null")
		}
		sb.Write(data)
	}
	sb.WriteString(")")
	return sb.String()
}
