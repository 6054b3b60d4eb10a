// internal/oracle/client.go
package oracle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
	"github.com/xkilldash9x/webpilot-cli/internal/snapshot"
)

const systemPrompt = `You are a web page automation operator. You observe a structured snapshot of the current page and decide exactly one next action.

Respond with a single JSON object and nothing else. Valid actions:
  {"type": "click", "selector": "<css>", "timeout_ms": 10000}
  {"type": "scroll"}
  {"type": "wait"}
  {"type": "tool", "tool_name": "<name>", "args": { ... }}
  {"type": "complete", "extracted_data": { ... }}

Rules:
- To fill form fields, always use the form.fill tool with the field values in args (keys: name, email, subject, phone, message). Never fill fields one at a time.
- Use "complete" only when the instruction is satisfied; put everything you extracted into extracted_data.
- Prefer tools over raw clicking when a tool matches the task.
- Include a short "thought" field explaining your choice.`

const maxHistoryEntries = 3
const maxHistoryEntryChars = 240

// Client asks the configured oracle provider for the next action and turns
// whatever comes back into a well-formed schemas.Action. It never returns an
// error to the loop: every failure mode degrades to a wait.
type Client struct {
	provider schemas.OracleProvider
	limiter  *rate.Limiter
	cfg      config.OracleConfig
	logger   *zap.Logger
}

// NewClient wires a provider to the decision client.
func NewClient(provider schemas.OracleProvider, cfg config.OracleConfig, logger *zap.Logger) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), 1)
	}
	return &Client{
		provider: provider,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger.Named("oracle"),
	}
}

// Decide produces the next action for the given instruction and page state.
// The snapshot is serialized and truncated to the run's current context
// budget before being sent. Timeouts, provider errors, and unparsable
// responses all degrade to a wait action so the loop can re-observe.
func (c *Client) Decide(ctx context.Context, instruction string, snap schemas.StateSnapshot, step int, rc config.RunConfig, toolCatalog []string) schemas.Action {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Warn("Rate limiter interrupted, waiting.", zap.Error(err))
			return DefaultWait()
		}
	}

	prompt := c.buildPrompt(instruction, snap, step, rc, toolCatalog)

	callCtx := ctx
	if rc.OracleTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, rc.OracleTimeout)
		defer cancel()
	}

	text, err := c.provider.Generate(callCtx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     c.cfg.Temperature,
			MaxTokens:       c.cfg.MaxTokens,
		},
	})
	if err != nil {
		c.logger.Warn("Oracle call failed, degrading to wait.",
			zap.Int("step", step), zap.Error(err))
		return DefaultWait()
	}

	action, parsed := ParseAction(text)
	if !parsed {
		c.logger.Warn("Oracle response was unparsable, degrading to wait.",
			zap.Int("step", step), zap.Int("response_len", len(text)))
		return action
	}

	c.logger.Debug("Oracle decided.",
		zap.Int("step", step),
		zap.String("type", string(action.Type)),
		zap.String("tool", action.ToolName),
		zap.String("thought", action.Thought))
	return action
}

const refinePrompt = `Rewrite the following web automation instruction to be precise and unambiguous. Keep the user's intent exactly; add no new goals. Reply with the rewritten instruction only, no commentary.

Instruction: %s`

// Refine performs the optional one-time instruction rewrite before the loop
// starts. Any failure returns the original instruction unchanged.
func (c *Client) Refine(ctx context.Context, instruction string) string {
	text, err := c.provider.Generate(ctx, schemas.GenerationRequest{
		UserPrompt: fmt.Sprintf(refinePrompt, instruction),
		Options: schemas.GenerationOptions{
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		},
	})
	if err != nil {
		c.logger.Warn("Instruction refinement failed, keeping original.", zap.Error(err))
		return instruction
	}
	refined := strings.TrimSpace(stripCodeFences(text))
	if refined == "" {
		return instruction
	}
	c.logger.Info("Instruction refined.", zap.String("refined", refined))
	return refined
}

// buildPrompt assembles the user message: instruction, budget-capped page
// state, recent tool history, and the tool catalog.
func (c *Client) buildPrompt(instruction string, snap schemas.StateSnapshot, step int, rc config.RunConfig, toolCatalog []string) string {
	budget := snapshot.ContextBudget(step, rc)
	if rc.ContextChars > budget {
		budget = rc.ContextChars
	}

	// Tool history travels outside the capped state block so escalation of
	// the page budget never crowds out the last few results.
	history := snap.ToolHistory
	snap.ToolHistory = nil

	stateJSON, err := json.MarshalIndent(snap, "", " ")
	if err != nil {
		stateJSON = []byte(`{"status":{"error":"state serialization failed"}}`)
	}
	state := string(stateJSON)
	if len(state) > budget {
		state = state[:budget] + "\n...[truncated]"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Instruction: %s\n\nStep: %d of %d\n\nPage state:\n%s\n", instruction, step, rc.MaxSteps, state)

	if len(history) > 0 {
		b.WriteString("\nRecent tool results (newest last):\n")
		start := len(history) - maxHistoryEntries
		if start < 0 {
			start = 0
		}
		for _, inv := range history[start:] {
			b.WriteString(summarizeInvocation(inv))
			b.WriteByte('\n')
		}
	}

	if len(toolCatalog) > 0 {
		fmt.Fprintf(&b, "\nAvailable tools: %s\n", strings.Join(toolCatalog, ", "))
	}
	return b.String()
}

// summarizeInvocation renders one history entry compactly for the prompt.
func summarizeInvocation(inv schemas.ToolInvocation) string {
	out, err := json.Marshal(inv.Result)
	if err != nil {
		out = []byte("{}")
	}
	line := fmt.Sprintf("- step %d: %s(%s) -> %s", inv.Step, inv.Tool, joinArgKeys(inv.Args), out)
	if len(line) > maxHistoryEntryChars {
		line = line[:maxHistoryEntryChars] + "..."
	}
	return line
}

func joinArgKeys(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	// Stable order keeps prompts and tests deterministic.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return strings.Join(keys, ", ")
}
