// internal/agent/agent.go
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/browser"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
	"github.com/xkilldash9x/webpilot-cli/internal/diagnose"
	"github.com/xkilldash9x/webpilot-cli/internal/oracle"
	"github.com/xkilldash9x/webpilot-cli/internal/snapshot"
	"github.com/xkilldash9x/webpilot-cli/internal/tools"
)

const (
	defaultWaitDuration = 2 * time.Second
	scrollStepJS        = `window.scrollBy(0, Math.round(window.innerHeight * 0.8)); true`
)

// Diagnoser classifies a navigation failure into an operator-facing report.
type Diagnoser interface {
	Diagnose(ctx context.Context, rawURL string, navErr error) diagnose.Report
}

// Agent drives one instruction against one page: observe, ask the oracle,
// act, repeat. Each run owns its own progress and retry state; Agent itself
// holds only the collaborators and may serve runs sequentially.
type Agent struct {
	page      schemas.PageSurface
	oracle    *oracle.Client
	registry  *tools.Registry
	builder   *snapshot.Builder
	extractor schemas.Extractor
	diagnoser Diagnoser
	logger    *zap.Logger
}

// New wires an agent from its collaborators. extractor and diagnoser may be
// nil; the corresponding fallbacks are then skipped.
func New(page schemas.PageSurface, oracleClient *oracle.Client, registry *tools.Registry, builder *snapshot.Builder, extractor schemas.Extractor, diagnoser Diagnoser, logger *zap.Logger) *Agent {
	return &Agent{
		page:      page,
		oracle:    oracleClient,
		registry:  registry,
		builder:   builder,
		extractor: extractor,
		diagnoser: diagnoser,
		logger:    logger.Named("agent"),
	}
}

// Run executes the instruction against the given URL and always returns a
// structured Result. A fatal page failure (browser gone, tab crashed) is the
// only condition the loop lets escape, and it is converted to a failed
// Result here, never re-raised.
func (a *Agent) Run(ctx context.Context, instruction, rawURL string, rc config.RunConfig) schemas.Result {
	rc = rc.Normalized()

	result := schemas.Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := a.logger.With(zap.String("run_id", result.RunID), zap.String("url", rawURL))
	log.Info("Run starting.", zap.String("instruction", instruction))

	if rc.RefineInstruction {
		instruction = a.oracle.Refine(ctx, instruction)
	}

	if err := a.loop(ctx, instruction, rawURL, &rc, &result, log); err != nil {
		result.Success = false
		result.Reason = fmt.Sprintf("fatal page failure: %v", err)
		result.Meta.Hints = append(result.Meta.Hints,
			"the browser session died mid-run; re-running with a fresh session usually recovers this")
		log.Error("Run aborted on fatal page failure.", zap.Error(err))
	}

	result.FinishedAt = time.Now()
	log.Info("Run finished.",
		zap.Bool("success", result.Success),
		zap.String("reason", result.Reason),
		zap.Int("steps_taken", result.StepsTaken))
	return result
}

// loop is the run's state machine. It returns a non-nil error only for
// fatal page failures; every other outcome is written into result.
func (a *Agent) loop(ctx context.Context, instruction, rawURL string, rc *config.RunConfig, result *schemas.Result, log *zap.Logger) error {
	navCtx, cancel := context.WithTimeout(ctx, rc.NavigationTimeout)
	err := a.page.Navigate(navCtx, rawURL)
	cancel()
	if err != nil {
		if browser.IsFatal(err) {
			return err
		}
		a.reportNavigationFailure(ctx, rawURL, err, rc, result, log)
		return nil
	}

	formOriented := snapshot.FormOriented(instruction)
	tracker := NewProgressTracker(log)
	retry := NewRetryManager(rc.MaxSameError, log)
	skipped := make(map[string]struct{})
	var history []schemas.ToolInvocation

	terminal := false
	for step := 1; step <= rc.MaxSteps && !terminal; step++ {
		result.StepsTaken = step

		snap := a.builder.BuildFromPage(ctx, a.page, step, formOriented, *rc)
		snap.ToolHistory = history

		if tracker.Tick(snap, rc) {
			result.Success = false
			result.Reason = "run stalled: page state stopped changing"
			result.Meta.Hints = append(result.Meta.Hints, stallHints(*rc)...)
			terminal = true
			break
		}

		action := a.oracle.Decide(ctx, instruction, snap, step, *rc, a.registry.Names())

		switch action.Type {
		case schemas.ActionComplete:
			result.Data = action.Data
			result.Success = true
			result.Reason = "instruction completed"
			terminal = true

		case schemas.ActionTool:
			done := a.dispatchTool(ctx, action, step, rc, retry, skipped, &history, result, log)
			terminal = done

		case schemas.ActionClick:
			timeout := rc.ClickTimeout
			if action.TimeoutMs > 0 {
				timeout = time.Duration(action.TimeoutMs) * time.Millisecond
			}
			if err := a.page.Click(ctx, action.Selector, timeout); err != nil {
				if browser.IsFatal(err) {
					return err
				}
				code := browser.Classify(err)
				log.Warn("Click failed.", zap.String("selector", action.Selector), zap.String("code", code), zap.Error(err))
				if !retry.ShouldRetry("click", code) {
					if _, already := skipped["click"]; !already {
						skipped["click"] = struct{}{}
						alt, _ := retry.Alternative("click")
						result.Meta.Hints = append(result.Meta.Hints, retryExhaustedHint("click", code, alt))
					}
				}
			}

		case schemas.ActionFill:
			// Normalization rewrites fills into form.fill tool calls; a raw
			// fill can still arrive from a hand-built action.
			if err := a.page.Fill(ctx, action.Selector, action.Value); err != nil {
				if browser.IsFatal(err) {
					return err
				}
				log.Warn("Fill failed.", zap.String("selector", action.Selector), zap.Error(err))
			}

		case schemas.ActionScroll:
			if err := a.page.Evaluate(ctx, scrollStepJS, nil); err != nil {
				if browser.IsFatal(err) {
					return err
				}
				log.Warn("Scroll failed.", zap.Error(err))
			}

		default: // schemas.ActionWait and anything unrecognized
			if err := a.page.Wait(ctx, defaultWaitDuration); err != nil {
				if browser.IsFatal(err) {
					return err
				}
			}
		}
	}

	if !terminal {
		result.Success = false
		result.Reason = "step budget exhausted"
		result.Meta.Hints = append(result.Meta.Hints, maxStepsHint(*rc))
	}

	if len(result.Data) == 0 {
		a.runFallbackChain(ctx, instruction, formOriented, rc, result, log)
	}

	a.captureScreenshot(ctx, rc, result, "final", log)
	return nil
}

// dispatchTool runs one ToolCall through the registry, the retry manager,
// and the form.fill auto-complete rule. It reports whether the run is done.
func (a *Agent) dispatchTool(ctx context.Context, action schemas.Action, step int, rc *config.RunConfig, retry *RetryManager, skipped map[string]struct{}, history *[]schemas.ToolInvocation, result *schemas.Result, log *zap.Logger) bool {
	name := action.ToolName

	if _, isSkipped := skipped[name]; isSkipped {
		if alt, ok := retry.Alternative(name); ok {
			if _, altSkipped := skipped[alt]; !altSkipped {
				log.Info("Substituting alternative for disabled tool.",
					zap.String("tool", name), zap.String("alternative", alt))
				name = alt
			}
		}
		if _, stillSkipped := skipped[name]; stillSkipped {
			*history = append(*history, schemas.ToolInvocation{
				Step: step, Tool: name, Args: action.Args,
				Result: schemas.ErrorResult("tool disabled after repeated failures"),
			})
			return false
		}
	}

	toolResult := a.registry.Dispatch(ctx, a.page, name, action.Args, rc.ToolTimeout)

	if msg := toolResult.Err(); msg != "" {
		log.Warn("Tool returned an error.", zap.String("tool", name), zap.String("error", msg))
		if !retry.ShouldRetry(name, msg) {
			if _, already := skipped[name]; !already {
				skipped[name] = struct{}{}
				alt, _ := retry.Alternative(name)
				result.Meta.Hints = append(result.Meta.Hints, retryExhaustedHint(name, msg, alt))
			}
		}
	} else if name == "form.fill" {
		if submitted, _ := toolResult["submitted"].(bool); submitted {
			result.Data = map[string]interface{}(toolResult)
			result.Success = true
			result.Reason = "form submitted"
			*history = append(*history, schemas.ToolInvocation{Step: step, Tool: name, Args: action.Args, Result: toolResult})
			return true
		}
	}

	*history = append(*history, schemas.ToolInvocation{Step: step, Tool: name, Args: action.Args, Result: toolResult})
	return false
}

// reportNavigationFailure classifies the initial navigation error and makes
// it the run's terminal result with a suggested remediation command.
func (a *Agent) reportNavigationFailure(ctx context.Context, rawURL string, navErr error, rc *config.RunConfig, result *schemas.Result, log *zap.Logger) {
	result.Success = false
	result.Reason = "navigation failed"
	result.Data = map[string]interface{}{"error": navErr.Error()}

	if a.diagnoser != nil {
		report := a.diagnoser.Diagnose(ctx, rawURL, navErr)
		result.Data["error"] = report.Message
		if report.Kind != "" {
			result.Data["kind"] = report.Kind
		}
		result.Meta.SuggestedCommands = append(result.Meta.SuggestedCommands, report.SuggestedCommands...)
	}
	log.Warn("Navigation failed, run terminated.", zap.Error(navErr))
	a.captureScreenshot(ctx, rc, result, "nav-failed", log)
}

// runFallbackChain runs once when the loop ends without data: a targeted
// form-fill retry for form-oriented instructions, then deterministic
// extraction.
func (a *Agent) runFallbackChain(ctx context.Context, instruction string, formOriented bool, rc *config.RunConfig, result *schemas.Result, log *zap.Logger) {
	if formOriented {
		values := parseInstructionValues(instruction)
		if len(values) > 0 {
			log.Info("Attempting targeted form-fill fallback.", zap.Int("values", len(values)))
			toolResult := a.registry.Dispatch(ctx, a.page, "form.fill", values, rc.ToolTimeout)
			if submitted, _ := toolResult["submitted"].(bool); submitted {
				result.Data = map[string]interface{}(toolResult)
				result.Success = true
				result.Reason = "form submitted by fallback"
				return
			}
		}
	}

	if a.extractor == nil {
		return
	}
	data, err := a.extractor.Extract(ctx, a.page)
	if err != nil {
		log.Warn("Fallback extraction failed.", zap.Error(err))
		return
	}
	if len(data) > 0 {
		result.Data = data
		result.Meta.Hints = append(result.Meta.Hints, "data recovered by deterministic extraction after the oracle returned none")
	}
}

// captureScreenshot records the viewport when a screenshot directory is set.
func (a *Agent) captureScreenshot(ctx context.Context, rc *config.RunConfig, result *schemas.Result, label string, log *zap.Logger) {
	if rc.ScreenshotDir == "" {
		return
	}
	path := filepath.Join(rc.ScreenshotDir, fmt.Sprintf("%s-%s.png", result.RunID, label))
	if err := a.page.Screenshot(ctx, path); err != nil {
		log.Warn("Screenshot failed.", zap.String("path", path), zap.Error(err))
		return
	}
	result.Screenshots = append(result.Screenshots, path)
}

// instructionValueRegex pulls key=value / key: value pairs out of a
// form-oriented instruction, e.g. `fill name=Jane, email=jane@x.com`.
var instructionValueRegex = regexp.MustCompile(`(?i)\b(name|email|subject|phone|message)\s*[=:]\s*(?:"([^"]*)"|'([^']*)'|([^,;\n]+))`)

func parseInstructionValues(instruction string) map[string]interface{} {
	matches := instructionValueRegex.FindAllStringSubmatch(instruction, -1)
	if len(matches) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(matches))
	for _, m := range matches {
		value := m[2]
		if value == "" {
			value = m[3]
		}
		if value == "" {
			value = m[4]
		}
		value = strings.TrimSpace(value)
		if value != "" {
			values[strings.ToLower(m[1])] = value
		}
	}
	return values
}
