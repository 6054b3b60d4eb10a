// internal/tools/consent.go
package tools

import (
	"context"
	"strings"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// clickByHeuristicJS clicks the first visible element matching any of the
// given selectors, or whose text matches any of the given phrases. Returns
// true when something was clicked.
const clickByHeuristicJS = `
(function(selectors, phrases) {
  const visible = (el) => {
    const s = window.getComputedStyle(el);
    if (s.display === 'none' || s.visibility === 'hidden') return false;
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  };
  for (const sel of selectors) {
    const el = document.querySelector(sel);
    if (el && visible(el)) { el.click(); return true; }
  }
  const candidates = document.querySelectorAll('button, a, input[type="button"], input[type="submit"], [role="button"]');
  for (const el of candidates) {
    if (!visible(el)) continue;
    const text = (el.innerText || el.value || '').trim().toLowerCase();
    if (!text || text.length > 40) continue;
    for (const phrase of phrases) {
      if (text.includes(phrase)) { el.click(); return true; }
    }
  }
  return false;
})(%SELECTORS%, %PHRASES%)
`

func clickByHeuristic(ctx context.Context, page schemas.PageSurface, selectors, phrases []string) (bool, error) {
	selJSON, err := json.Marshal(selectors)
	if err != nil {
		return false, err
	}
	phraseJSON, err := json.Marshal(phrases)
	if err != nil {
		return false, err
	}
	script := strings.Replace(clickByHeuristicJS, "%SELECTORS%", string(selJSON), 1)
	script = strings.Replace(script, "%PHRASES%", string(phraseJSON), 1)

	var clicked bool
	if err := page.Evaluate(ctx, script, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

// -- cookies.accept --

type cookiesAcceptTool struct{}

func (cookiesAcceptTool) Name() string        { return "cookies.accept" }
func (cookiesAcceptTool) Description() string { return "Dismiss a cookie consent banner by clicking its accept control" }
func (cookiesAcceptTool) Schema() string      { return `{"type":"object","additionalProperties":false}` }

func (cookiesAcceptTool) Execute(ctx context.Context, page schemas.PageSurface, _ map[string]interface{}) schemas.ToolResult {
	selectors := []string{
		"#onetrust-accept-btn-handler",
		".cc-allow",
		".cky-btn-accept",
		"[data-cookiebanner='accept_button']",
		"button[aria-label*='ccept']",
	}
	phrases := []string{"accept all", "accept cookies", "allow all", "i agree", "accept", "agree", "got it", "kabul et"}

	clicked, err := clickByHeuristic(ctx, page, selectors, phrases)
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}
	return schemas.ToolResult{"accepted": clicked}
}

// -- human.verify --

type humanVerifyTool struct{}

func (humanVerifyTool) Name() string        { return "human.verify" }
func (humanVerifyTool) Description() string { return "Click a simple 'I am human' style verification control if one is present" }
func (humanVerifyTool) Schema() string      { return `{"type":"object","additionalProperties":false}` }

func (humanVerifyTool) Execute(ctx context.Context, page schemas.PageSurface, _ map[string]interface{}) schemas.ToolResult {
	selectors := []string{
		"input[type='checkbox'][name*='captcha']",
		"#px-captcha",
		".h-captcha",
	}
	phrases := []string{"i am human", "i'm not a robot", "verify you are human", "verify"}

	clicked, err := clickByHeuristic(ctx, page, selectors, phrases)
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}
	return schemas.ToolResult{"ok": clicked}
}
