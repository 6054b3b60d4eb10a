// internal/tools/dom.go
package tools

import (
	"context"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/snapshot"
)

// domSnapshotTool exposes the raw page capture to the oracle so it can ask
// for a fresh, uncapped look at the page mid-run.
type domSnapshotTool struct{}

func (domSnapshotTool) Name() string        { return "dom.snapshot" }
func (domSnapshotTool) Description() string { return "Capture a fresh structured snapshot of the current page" }
func (domSnapshotTool) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"include_dom": {"type": "boolean"},
			"max_chars": {"type": "integer", "minimum": 100}
		},
		"additionalProperties": false
	}`
}

func (domSnapshotTool) Execute(ctx context.Context, page schemas.PageSurface, args map[string]interface{}) schemas.ToolResult {
	raw, err := snapshot.Capture(ctx, page)
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}

	includeDOM := true
	if v, ok := args["include_dom"].(bool); ok {
		includeDOM = v
	}
	if !includeDOM {
		raw.DOMPreview = ""
	} else if n, ok := args["max_chars"].(float64); ok && int(n) > 0 && len(raw.DOMPreview) > int(n) {
		raw.DOMPreview = raw.DOMPreview[:int(n)]
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}
	var result schemas.ToolResult
	if err := json.Unmarshal(encoded, &result); err != nil {
		return schemas.ErrorResult(err.Error())
	}
	return result
}
