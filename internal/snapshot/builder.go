// internal/snapshot/builder.go
package snapshot

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// Disclosure levels. The step index and the stall-escalated depth level
// both push the effective level upward; forms are exempt from gating when
// the instruction is form oriented.
const (
	levelMinimal  = 1 // title, url, top headings
	levelElements = 2 // + interactive elements, simplified forms
	levelPreview  = 3 // + capped DOM preview
	levelFull     = 4 // + iframes, everything available
)

// Builder produces size-bounded snapshots of page state for the oracle.
type Builder struct {
	logger *zap.Logger
}

// NewBuilder returns a context builder.
func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{logger: logger.Named("snapshot")}
}

// ContextBudget is the adaptive character cap for snapshot serialization:
// monotonically non-decreasing in step and never above MaxContextChars.
func ContextBudget(step int, rc config.RunConfig) int {
	size := rc.BaseContextChars + step*rc.ContextGrowthPerStep
	if size > rc.MaxContextChars {
		return rc.MaxContextChars
	}
	return size
}

// DOMBudget is the DOM-preview cap scaled by the current depth level.
func DOMBudget(rc config.RunConfig) int {
	size := rc.DOMPreviewChars * rc.DepthLevel
	if size > rc.DOMPreviewMaxChars {
		return rc.DOMPreviewMaxChars
	}
	return size
}

// levelFor maps the step index to a disclosure level. Stall escalation can
// only raise it: depth 2 exposes the DOM preview early, depth 3 everything.
func levelFor(step, depthLevel int) int {
	var level int
	switch {
	case step <= 2:
		level = levelMinimal
	case step <= 4:
		level = levelElements
	case step <= 6:
		level = levelPreview
	default:
		level = levelFull
	}
	if depthLevel >= 3 {
		return levelFull
	}
	if depthLevel == 2 && level < levelPreview {
		return levelPreview
	}
	return level
}

// BuildFromPage captures the raw state and levels it. If the page is
// unreachable the returned snapshot carries only status.error; the builder
// never returns an error.
func (b *Builder) BuildFromPage(ctx context.Context, page schemas.PageSurface, step int, formOriented bool, rc config.RunConfig) schemas.StateSnapshot {
	raw, err := Capture(ctx, page)
	if err != nil {
		b.logger.Warn("Page state capture failed", zap.Int("step", step), zap.Error(err))
		return schemas.StateSnapshot{Status: &schemas.SnapshotStatus{Error: err.Error()}}
	}
	return b.Build(raw, step, formOriented, rc)
}

// Build levels and caps a raw capture into the oracle-facing snapshot.
// Empty values are pruned before any size accounting so the budget is spent
// on signal, not structure.
func (b *Builder) Build(raw RawPage, step int, formOriented bool, rc config.RunConfig) schemas.StateSnapshot {
	level := levelFor(step, rc.DepthLevel)

	snap := schemas.StateSnapshot{
		Title:    strings.TrimSpace(raw.Title),
		URL:      raw.URL,
		Headings: pruneStrings(raw.Headings, 10),
	}

	// Forms are never level-gated for form-oriented instructions: a form
	// the oracle cannot see makes the task unsolvable.
	if formOriented {
		snap.Forms = pruneForms(raw.Forms, false)
	}

	if level >= levelElements {
		snap.Interactive = pruneInteractive(raw.Interactive)
		if snap.Forms == nil {
			snap.Forms = pruneForms(raw.Forms, true)
		}
	}

	if level >= levelPreview {
		snap.DOMPreview = capString(strings.TrimSpace(raw.DOMPreview), DOMBudget(rc))
	}

	if level >= levelFull {
		snap.Iframes = pruneIframes(raw.Iframes)
	}

	return snap
}

// capString truncates s to at most limit characters, marking the cut.
func capString(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	const marker = "\n...[truncated]"
	if limit <= len(marker) {
		return s[:limit]
	}
	return s[:limit-len(marker)] + marker
}

func pruneStrings(in []string, max int) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
		if len(out) == max {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func pruneInteractive(in []schemas.InteractiveElement) []schemas.InteractiveElement {
	out := make([]schemas.InteractiveElement, 0, len(in))
	for _, el := range in {
		if el.Selector == "" {
			continue
		}
		if el.Text == "" && el.Href == "" && el.Tag != "input" && el.Tag != "textarea" && el.Tag != "select" {
			continue
		}
		out = append(out, el)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// pruneForms drops empty forms. In simplified mode field values and labels
// are stripped so mid-level snapshots stay cheap.
func pruneForms(in []schemas.FormSummary, simplified bool) []schemas.FormSummary {
	out := make([]schemas.FormSummary, 0, len(in))
	for _, f := range in {
		if len(f.Fields) == 0 {
			continue
		}
		if simplified {
			fields := make([]schemas.FormField, 0, len(f.Fields))
			for _, fl := range f.Fields {
				fields = append(fields, schemas.FormField{
					Name:     fl.Name,
					Type:     fl.Type,
					Selector: fl.Selector,
					Required: fl.Required,
				})
			}
			f.Fields = fields
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func pruneIframes(in []schemas.IframeSummary) []schemas.IframeSummary {
	out := make([]schemas.IframeSummary, 0, len(in))
	for _, fr := range in {
		if fr.URL == "" && fr.Title == "" {
			continue
		}
		out = append(out, fr)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// formKeywords are the instruction markers that flag a run as form oriented.
var formKeywords = []string{
	"fill", "form", "submit", "contact", "sign up", "signup",
	"register", "subscribe", "name=", "email=", "message=",
}

// FormOriented reports whether the instruction is about filling a form.
func FormOriented(instruction string) bool {
	lower := strings.ToLower(instruction)
	for _, kw := range formKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
