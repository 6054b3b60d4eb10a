// internal/tools/form.go
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// formInfoJS collects the primary form (or the one matching the given
// selector) and its fillable fields. Hidden inputs are excluded; selectors
// prefer id, then name, then a child-index path.
const formInfoJS = `
(function(formSel) {
  const pathOf = (el) => {
    if (el.id) return '#' + CSS.escape(el.id);
    if (el.name && el.form) return el.form.tagName.toLowerCase() + ' [name="' + CSS.escape(el.name) + '"]';
    const parts = [];
    let node = el;
    while (node && node.nodeType === 1 && parts.length < 6) {
      let part = node.tagName.toLowerCase();
      if (node.id) { parts.unshift('#' + CSS.escape(node.id)); break; }
      const parent = node.parentElement;
      if (parent) {
        const siblings = Array.from(parent.children).filter(c => c.tagName === node.tagName);
        if (siblings.length > 1) part += ':nth-of-type(' + (siblings.indexOf(node) + 1) + ')';
      }
      parts.unshift(part);
      node = parent;
    }
    return parts.join(' > ');
  };
  const labelFor = (el) => {
    if (el.labels && el.labels.length) return el.labels[0].innerText.trim();
    if (el.getAttribute('aria-label')) return el.getAttribute('aria-label').trim();
    if (el.placeholder) return el.placeholder.trim();
    return '';
  };

  const form = formSel ? document.querySelector(formSel) : document.querySelector('form');
  if (!form) return { found: false, fields: [] };

  const fields = Array.from(form.querySelectorAll('input, textarea, select'))
    .filter(el => el.type !== 'hidden' && el.type !== 'submit' && el.type !== 'button')
    .map(el => ({
      name: el.name || el.id || '',
      type: el.tagName.toLowerCase() === 'input' ? (el.type || 'text') : el.tagName.toLowerCase(),
      label: labelFor(el),
      selector: pathOf(el),
      required: !!el.required,
      value: el.value || ''
    }));

  return {
    found: true,
    form_selector: pathOf(form),
    action: form.getAttribute('action') || '',
    method: (form.method || 'get').toLowerCase(),
    fields: fields
  };
})(%SEL%)
`

// formSubmitJS submits the form via its submit control when present,
// falling back to requestSubmit so submit handlers still fire.
const formSubmitJS = `
(function(formSel) {
  const form = formSel ? document.querySelector(formSel) : document.querySelector('form');
  if (!form) return false;
  const btn = form.querySelector('button[type="submit"], input[type="submit"], button:not([type])');
  if (btn) { btn.click(); return true; }
  if (form.requestSubmit) { form.requestSubmit(); } else { form.submit(); }
  return true;
})(%SEL%)
`

// formValidityJS runs the browser's constraint validation on every field.
const formValidityJS = `
(function(formSel) {
  const form = formSel ? document.querySelector(formSel) : document.querySelector('form');
  if (!form) return { found: false, valid: false, problems: [] };
  const problems = [];
  for (const el of form.querySelectorAll('input, textarea, select')) {
    if (el.type === 'hidden') continue;
    if (!el.checkValidity()) {
      problems.push({ name: el.name || el.id || el.tagName.toLowerCase(), message: el.validationMessage });
    }
  }
  return { found: true, valid: problems.length === 0, problems: problems };
})(%SEL%)
`

// formSuccessJS looks for the usual post-submit confirmation signals.
const formSuccessJS = `
(function() {
  const phrases = ['thank you', 'thanks for', 'successfully', 'message sent', 'message has been sent', 'we have received', 'teşekkür'];
  const selectors = ['.success', '.alert-success', '.form-success', '.wpcf7-mail-sent-ok', '[role="status"]'];
  for (const sel of selectors) {
    const el = document.querySelector(sel);
    if (el && el.innerText.trim()) return { success: true, message: el.innerText.trim().slice(0, 200) };
  }
  const text = (document.body.innerText || '').toLowerCase();
  for (const phrase of phrases) {
    const idx = text.indexOf(phrase);
    if (idx >= 0) return { success: true, message: text.slice(idx, idx + 120) };
  }
  return { success: false, message: '' };
})()
`

type formInfo struct {
	Found        bool                `json:"found"`
	FormSelector string              `json:"form_selector"`
	Action       string              `json:"action"`
	Method       string              `json:"method"`
	Fields       []schemas.FormField `json:"fields"`
}

func scopedScript(template, formSelector string) string {
	sel := "null"
	if formSelector != "" {
		encoded, err := json.Marshal(formSelector)
		if err == nil {
			sel = string(encoded)
		}
	}
	return strings.Replace(template, "%SEL%", sel, 1)
}

func inspectForm(ctx context.Context, page schemas.PageSurface, formSelector string) (formInfo, error) {
	var info formInfo
	if err := page.Evaluate(ctx, scopedScript(formInfoJS, formSelector), &info); err != nil {
		return formInfo{}, fmt.Errorf("failed to inspect form: %w", err)
	}
	return info, nil
}

// fieldSynonyms maps the composite tool's value keys to the tokens used to
// recognize the matching field by name, id, label, or placeholder.
var fieldSynonyms = map[string][]string{
	"name":    {"name", "fullname", "full_name", "your-name", "fname", "ad"},
	"email":   {"email", "e-mail", "mail"},
	"subject": {"subject", "topic", "title", "konu"},
	"phone":   {"phone", "tel", "mobile", "telefon"},
	"message": {"message", "comment", "body", "inquiry", "enquiry", "mesaj"},
}

// matchField finds the form field for a composite value key. Message keys
// prefer a textarea when token matching is inconclusive.
func matchField(fields []schemas.FormField, key string) *schemas.FormField {
	tokens := fieldSynonyms[key]
	for i := range fields {
		f := &fields[i]
		haystack := strings.ToLower(f.Name + " " + f.Label + " " + f.Selector)
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				return f
			}
		}
	}
	if key == "message" {
		for i := range fields {
			if fields[i].Type == "textarea" {
				return &fields[i]
			}
		}
	}
	if key == "email" {
		for i := range fields {
			if fields[i].Type == "email" {
				return &fields[i]
			}
		}
	}
	if key == "phone" {
		for i := range fields {
			if fields[i].Type == "tel" {
				return &fields[i]
			}
		}
	}
	return nil
}

const formSelectorSchema = `{
	"type": "object",
	"properties": {
		"form_selector": {"type": "string"}
	},
	"additionalProperties": false
}`

// -- form.detect --

type formDetectTool struct{}

func (formDetectTool) Name() string        { return "form.detect" }
func (formDetectTool) Description() string { return "Detect the primary form on the page" }
func (formDetectTool) Schema() string      { return formSelectorSchema }

func (formDetectTool) Execute(ctx context.Context, page schemas.PageSurface, args map[string]interface{}) schemas.ToolResult {
	sel, _ := args["form_selector"].(string)
	info, err := inspectForm(ctx, page, sel)
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}
	return schemas.ToolResult{
		"found":         info.Found,
		"form_selector": info.FormSelector,
		"action":        info.Action,
		"method":        info.Method,
		"field_count":   len(info.Fields),
	}
}

// -- form.fields --

type formFieldsTool struct{}

func (formFieldsTool) Name() string        { return "form.fields" }
func (formFieldsTool) Description() string { return "List the fillable fields of a form with labels and selectors" }
func (formFieldsTool) Schema() string      { return formSelectorSchema }

func (formFieldsTool) Execute(ctx context.Context, page schemas.PageSurface, args map[string]interface{}) schemas.ToolResult {
	sel, _ := args["form_selector"].(string)
	info, err := inspectForm(ctx, page, sel)
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}
	if !info.Found {
		return schemas.ErrorResult("no form found on page")
	}

	fields := make([]map[string]interface{}, 0, len(info.Fields))
	for _, f := range info.Fields {
		fields = append(fields, map[string]interface{}{
			"name":     f.Name,
			"type":     f.Type,
			"label":    f.Label,
			"selector": f.Selector,
			"required": f.Required,
			"value":    f.Value,
		})
	}
	return schemas.ToolResult{"fields": fields, "form_selector": info.FormSelector}
}

// -- form.fill_field --

type formFillFieldTool struct{}

func (formFillFieldTool) Name() string        { return "form.fill_field" }
func (formFillFieldTool) Description() string { return "Fill a single form field by selector" }
func (formFillFieldTool) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"selector": {"type": "string", "minLength": 1},
			"value": {"type": "string"}
		},
		"required": ["selector", "value"],
		"additionalProperties": false
	}`
}

func (formFillFieldTool) Execute(ctx context.Context, page schemas.PageSurface, args map[string]interface{}) schemas.ToolResult {
	selector, _ := args["selector"].(string)
	value, _ := args["value"].(string)
	if err := page.Fill(ctx, selector, value); err != nil {
		return schemas.ErrorResult(err.Error())
	}
	return schemas.ToolResult{"filled": selector}
}

// -- form.validate --

type formValidateTool struct{}

func (formValidateTool) Name() string        { return "form.validate" }
func (formValidateTool) Description() string { return "Run constraint validation on a form's fields" }
func (formValidateTool) Schema() string      { return formSelectorSchema }

func (formValidateTool) Execute(ctx context.Context, page schemas.PageSurface, args map[string]interface{}) schemas.ToolResult {
	sel, _ := args["form_selector"].(string)
	var out schemas.ToolResult
	if err := page.Evaluate(ctx, scopedScript(formValidityJS, sel), &out); err != nil {
		return schemas.ErrorResult(err.Error())
	}
	if found, _ := out["found"].(bool); !found {
		return schemas.ErrorResult("no form found on page")
	}
	delete(out, "found")
	return out
}

// -- form.check_required --

type formCheckRequiredTool struct{}

func (formCheckRequiredTool) Name() string        { return "form.check_required" }
func (formCheckRequiredTool) Description() string { return "List required form fields that are still empty" }
func (formCheckRequiredTool) Schema() string      { return formSelectorSchema }

func (formCheckRequiredTool) Execute(ctx context.Context, page schemas.PageSurface, args map[string]interface{}) schemas.ToolResult {
	sel, _ := args["form_selector"].(string)
	info, err := inspectForm(ctx, page, sel)
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}
	if !info.Found {
		return schemas.ErrorResult("no form found on page")
	}

	missing := make([]string, 0)
	for _, f := range info.Fields {
		if f.Required && strings.TrimSpace(f.Value) == "" {
			name := f.Name
			if name == "" {
				name = f.Selector
			}
			missing = append(missing, name)
		}
	}
	return schemas.ToolResult{"missing": missing}
}

// -- form.submit --

type formSubmitTool struct{}

func (formSubmitTool) Name() string        { return "form.submit" }
func (formSubmitTool) Description() string { return "Submit a form via its submit control" }
func (formSubmitTool) Schema() string      { return formSelectorSchema }

func (formSubmitTool) Execute(ctx context.Context, page schemas.PageSurface, args map[string]interface{}) schemas.ToolResult {
	sel, _ := args["form_selector"].(string)
	var submitted bool
	if err := page.Evaluate(ctx, scopedScript(formSubmitJS, sel), &submitted); err != nil {
		return schemas.ErrorResult(err.Error())
	}
	if !submitted {
		return schemas.ErrorResult("no form found to submit")
	}
	return schemas.ToolResult{"submit_attempted": true}
}

// -- form.check_success --

type formCheckSuccessTool struct{}

func (formCheckSuccessTool) Name() string        { return "form.check_success" }
func (formCheckSuccessTool) Description() string { return "Check the page for a post-submit confirmation message" }
func (formCheckSuccessTool) Schema() string      { return `{"type":"object","additionalProperties":false}` }

func (formCheckSuccessTool) Execute(ctx context.Context, page schemas.PageSurface, _ map[string]interface{}) schemas.ToolResult {
	var out schemas.ToolResult
	if err := page.Evaluate(ctx, formSuccessJS, &out); err != nil {
		return schemas.ErrorResult(err.Error())
	}
	return out
}

// -- form.fill (composite) --

// formFillTool is the composite used by the auto-correction rewrite: map the
// provided values onto the form's fields, fill them, submit, and verify.
type formFillTool struct{}

func (formFillTool) Name() string        { return "form.fill" }
func (formFillTool) Description() string { return "Fill an entire form from named values (name, email, subject, phone, message) and submit it" }
func (formFillTool) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"email": {"type": "string"},
			"subject": {"type": "string"},
			"phone": {"type": "string"},
			"message": {"type": "string"},
			"selector": {"type": "string"},
			"value": {"type": "string"},
			"form_selector": {"type": "string"},
			"submit": {"type": "boolean"}
		},
		"additionalProperties": false
	}`
}

func (t formFillTool) Execute(ctx context.Context, page schemas.PageSurface, args map[string]interface{}) schemas.ToolResult {
	formSel, _ := args["form_selector"].(string)
	info, err := inspectForm(ctx, page, formSel)
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}
	if !info.Found {
		return schemas.ErrorResult("no form found on page")
	}

	filled := make(map[string]interface{})
	errs := make([]string, 0)

	for key := range fieldSynonyms {
		value, ok := args[key].(string)
		if !ok || value == "" {
			continue
		}
		field := matchField(info.Fields, key)
		if field == nil {
			errs = append(errs, fmt.Sprintf("no field matched %q", key))
			continue
		}
		if err := page.Fill(ctx, field.Selector, value); err != nil {
			errs = append(errs, fmt.Sprintf("fill %s: %v", key, err))
			continue
		}
		filled[key] = field.Selector
	}

	// A bare selector/value pair (from a corrected single-field fill) is
	// honored as one more direct fill.
	if selector, ok := args["selector"].(string); ok && selector != "" {
		if value, ok := args["value"].(string); ok {
			if err := page.Fill(ctx, selector, value); err != nil {
				errs = append(errs, fmt.Sprintf("fill %s: %v", selector, err))
			} else {
				filled[selector] = selector
			}
		}
	}

	if len(filled) == 0 {
		result := schemas.ToolResult{"submitted": false, "filled": filled}
		if len(errs) > 0 {
			result["errors"] = errs
		}
		return result
	}

	doSubmit := true
	if v, ok := args["submit"].(bool); ok {
		doSubmit = v
	}
	submitted := false
	if doSubmit {
		var ok bool
		if err := page.Evaluate(ctx, scopedScript(formSubmitJS, info.FormSelector), &ok); err != nil {
			errs = append(errs, fmt.Sprintf("submit: %v", err))
		} else if ok {
			// Give the page a moment to process before the confirmation scan.
			_ = page.Wait(ctx, 1500*time.Millisecond)
			var confirm schemas.ToolResult
			if err := page.Evaluate(ctx, formSuccessJS, &confirm); err == nil {
				if success, _ := confirm["success"].(bool); success {
					submitted = true
				}
			}
			// Submission without stored confirmation still counts when the
			// form is gone from the page afterwards.
			if !submitted {
				after, err := inspectForm(ctx, page, formSel)
				if err == nil && !after.Found {
					submitted = true
				}
			}
		}
	}

	result := schemas.ToolResult{"submitted": submitted, "filled": filled}
	if len(errs) > 0 {
		result["errors"] = errs
	}
	return result
}

// -- llm_guided_field_fill --

// guidedFieldFillTool is the fallback alternative to form.fill: it fills the
// matched fields one at a time and never submits, leaving the oracle in
// control of the next step.
type guidedFieldFillTool struct{}

func (guidedFieldFillTool) Name() string        { return "llm_guided_field_fill" }
func (guidedFieldFillTool) Description() string { return "Fill form fields one at a time without submitting, for forms the composite filler cannot handle" }
func (guidedFieldFillTool) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"email": {"type": "string"},
			"subject": {"type": "string"},
			"phone": {"type": "string"},
			"message": {"type": "string"},
			"selector": {"type": "string"},
			"value": {"type": "string"},
			"form_selector": {"type": "string"}
		},
		"additionalProperties": false
	}`
}

func (guidedFieldFillTool) Execute(ctx context.Context, page schemas.PageSurface, args map[string]interface{}) schemas.ToolResult {
	formSel, _ := args["form_selector"].(string)
	info, err := inspectForm(ctx, page, formSel)
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}

	filled := make(map[string]interface{})
	errs := make([]string, 0)

	if selector, ok := args["selector"].(string); ok && selector != "" {
		value, _ := args["value"].(string)
		if err := page.Fill(ctx, selector, value); err != nil {
			errs = append(errs, fmt.Sprintf("fill %s: %v", selector, err))
		} else {
			filled[selector] = selector
		}
	}

	if info.Found {
		for key := range fieldSynonyms {
			value, ok := args[key].(string)
			if !ok || value == "" {
				continue
			}
			field := matchField(info.Fields, key)
			if field == nil {
				errs = append(errs, fmt.Sprintf("no field matched %q", key))
				continue
			}
			if err := page.Fill(ctx, field.Selector, value); err != nil {
				errs = append(errs, fmt.Sprintf("fill %s: %v", key, err))
				continue
			}
			filled[key] = field.Selector
		}
	}

	result := schemas.ToolResult{"submitted": false, "filled": filled}
	if len(errs) > 0 {
		result["errors"] = errs
	}
	return result
}

// defaultHandlers is the full tool set registered at startup.
func defaultHandlers() []Handler {
	return []Handler{
		emailsTool{},
		phonesTool{},
		linksTool{},
		articlesTool{},
		productsTool{},
		domSnapshotTool{},
		cookiesAcceptTool{},
		humanVerifyTool{},
		formDetectTool{},
		formFieldsTool{},
		formFillFieldTool{},
		formValidateTool{},
		formCheckRequiredTool{},
		formSubmitTool{},
		formCheckSuccessTool{},
		formFillTool{},
		guidedFieldFillTool{},
	}
}
