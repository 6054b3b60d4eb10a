// api/schemas/schemas.go
package schemas

import "time"

// ActionType enumerates every decision the oracle can return. Primitive
// actions are executed directly against the page surface; ActionTool is
// dispatched through the tool registry; ActionComplete terminates the run.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionFill     ActionType = "fill"
	ActionScroll   ActionType = "scroll"
	ActionWait     ActionType = "wait"
	ActionTool     ActionType = "tool"
	ActionComplete ActionType = "complete"
)

// Action is the tagged union produced once per step by the oracle client and
// consumed once by the orchestrator loop. Only the fields relevant to the
// active Type carry meaning; the loop matches exhaustively on Type.
type Action struct {
	Type     ActionType     `json:"type"`
	Selector string         `json:"selector,omitempty"`
	Value    string         `json:"value,omitempty"`
	// TimeoutMs overrides the configured click timeout for a single action.
	TimeoutMs int                    `json:"timeout_ms,omitempty"`
	ToolName  string                 `json:"tool_name,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	// Data carries the completion payload for ActionComplete.
	Data map[string]interface{} `json:"extracted_data,omitempty"`
	// Thought is the oracle's free-form reasoning; kept for run transcripts.
	Thought string `json:"thought,omitempty"`
}

// InteractiveElement describes one clickable/fillable element in a snapshot.
type InteractiveElement struct {
	Tag      string `json:"tag"`
	Type     string `json:"type,omitempty"`
	Text     string `json:"text,omitempty"`
	Selector string `json:"selector"`
	Href     string `json:"href,omitempty"`
}

// FormField describes one input inside a detected form.
type FormField struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Label    string `json:"label,omitempty"`
	Selector string `json:"selector"`
	Required bool   `json:"required,omitempty"`
	Value    string `json:"value,omitempty"`
}

// FormSummary describes a form and its fields. Forms are never level-gated
// by the context builder: a form the oracle cannot see is a form it cannot
// fill.
type FormSummary struct {
	Selector string      `json:"selector"`
	Action   string      `json:"action,omitempty"`
	Method   string      `json:"method,omitempty"`
	Fields   []FormField `json:"fields,omitempty"`
}

// IframeSummary is the shallow description of an embedded frame.
type IframeSummary struct {
	Selector string `json:"selector"`
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
}

// ToolInvocation records one prior tool call for the oracle's benefit.
type ToolInvocation struct {
	Step   int                    `json:"step,omitempty"`
	Tool   string                 `json:"tool"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Result map[string]interface{} `json:"result,omitempty"`
}

// SnapshotStatus carries the error channel of a snapshot whose underlying
// page could not be reached. A snapshot with only Status.Error populated is
// the builder's failure mode; the builder itself never returns an error.
type SnapshotStatus struct {
	Error string `json:"error,omitempty"`
}

// StateSnapshot is the bounded page description handed to the oracle. It is
// rebuilt every step and never persisted.
type StateSnapshot struct {
	Title       string               `json:"title,omitempty"`
	URL         string               `json:"url,omitempty"`
	Headings    []string             `json:"headings,omitempty"`
	Interactive []InteractiveElement `json:"interactive,omitempty"`
	Forms       []FormSummary        `json:"forms,omitempty"`
	DOMPreview  string               `json:"dom_preview,omitempty"`
	Iframes     []IframeSummary      `json:"iframes,omitempty"`
	ToolHistory []ToolInvocation     `json:"tool_history,omitempty"`
	Status      *SnapshotStatus      `json:"status,omitempty"`
}

// ToolResult is the structured map every tool handler returns. It is always
// either a success payload or {"error": "..."}; exceptions never cross the
// dispatcher boundary.
type ToolResult map[string]interface{}

// ErrorResult builds the canonical failure payload.
func ErrorResult(msg string) ToolResult {
	return ToolResult{"error": msg}
}

// Err returns the error string of a failed result, or "" on success.
func (r ToolResult) Err() string {
	if r == nil {
		return ""
	}
	if s, ok := r["error"].(string); ok {
		return s
	}
	return ""
}

// IsError reports whether the result is a failure payload.
func (r ToolResult) IsError() bool { return r.Err() != "" }

// ResultMeta carries the advisory portion of a run result.
type ResultMeta struct {
	Hints             []string `json:"hints,omitempty"`
	SuggestedCommands []string `json:"suggested_commands,omitempty"`
}

// Result is the externally visible outcome of one run. It is constructed
// incrementally by the orchestrator and returned exactly once at loop exit.
// User-visible failure is always a Result, never a raw error.
type Result struct {
	RunID       string                 `json:"run_id"`
	Success     bool                   `json:"success"`
	Reason      string                 `json:"reason,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	StepsTaken  int                    `json:"steps_taken"`
	Screenshots []string               `json:"screenshots,omitempty"`
	Meta        ResultMeta             `json:"meta"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
}

// GenerationOptions tunes one oracle request.
type GenerationOptions struct {
	ForceJSONFormat bool
	Temperature     float32
	MaxTokens       int
}

// GenerationRequest is the provider-neutral oracle request shape.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Options      GenerationOptions
}
