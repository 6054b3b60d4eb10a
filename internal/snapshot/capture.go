// internal/snapshot/capture.go
package snapshot

import (
	"context"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// RawPage is the full, un-budgeted page state as captured from the browser.
// The builder levels and caps it into a schemas.StateSnapshot.
type RawPage struct {
	Title       string                       `json:"title"`
	URL         string                       `json:"url"`
	Headings    []string                     `json:"headings"`
	Interactive []schemas.InteractiveElement `json:"interactive"`
	Forms       []schemas.FormSummary        `json:"forms"`
	DOMPreview  string                       `json:"dom_preview"`
	Iframes     []schemas.IframeSummary      `json:"iframes"`
}

// pageStateJS collects everything the context builder may need in a single
// page round trip. Visibility filtering and hard output ceilings live in the
// script so oversized pages never cross the wire whole.
const pageStateJS = `(() => {
  const MAX_TEXT = 120;
  const MAX_ITEMS = 60;
  const MAX_DOM = 20000;

  const clean = (s) => (s || '').replace(/\s+/g, ' ').trim().slice(0, MAX_TEXT);

  const visible = (el) => {
    if (!el || !el.getBoundingClientRect) return false;
    if (el.getAttribute && el.getAttribute('aria-hidden') === 'true') return false;
    const r = el.getBoundingClientRect();
    const st = window.getComputedStyle(el);
    return r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none';
  };

  const cssPath = (el) => {
    if (el.id) return '#' + CSS.escape(el.id);
    const parts = [];
    let cur = el;
    while (cur && cur.nodeType === 1 && parts.length < 5) {
      let part = cur.tagName.toLowerCase();
      const parent = cur.parentElement;
      if (parent) {
        const same = Array.from(parent.children).filter(c => c.tagName === cur.tagName);
        if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(cur) + 1) + ')';
      }
      parts.unshift(part);
      if (cur.id) { parts[0] = '#' + CSS.escape(cur.id); break; }
      cur = parent;
    }
    return parts.join(' > ');
  };

  const headings = Array.from(document.querySelectorAll('h1, h2, h3'))
    .filter(visible).slice(0, MAX_ITEMS).map(h => clean(h.textContent)).filter(Boolean);

  const interactive = Array.from(
    document.querySelectorAll('a[href], button, input, textarea, select, [role=button], [role=link]')
  ).filter(visible).slice(0, MAX_ITEMS).map(el => ({
    tag: el.tagName.toLowerCase(),
    type: (el.getAttribute('type') || '').toLowerCase(),
    text: clean(el.textContent || el.value || el.getAttribute('aria-label')),
    selector: cssPath(el),
    href: el.tagName === 'A' ? (el.getAttribute('href') || '') : ''
  }));

  const forms = Array.from(document.querySelectorAll('form')).slice(0, 10).map(f => ({
    selector: cssPath(f),
    action: f.getAttribute('action') || '',
    method: (f.getAttribute('method') || 'get').toLowerCase(),
    fields: Array.from(f.querySelectorAll('input, textarea, select'))
      .filter(el => (el.getAttribute('type') || '') !== 'hidden')
      .slice(0, 30).map(el => ({
        name: el.getAttribute('name') || el.id || '',
        type: (el.getAttribute('type') || el.tagName.toLowerCase()).toLowerCase(),
        label: clean((el.labels && el.labels[0] && el.labels[0].textContent) || el.getAttribute('placeholder')),
        selector: cssPath(el),
        required: el.required === true,
        value: el.tagName === 'SELECT' ? '' : clean(el.value)
      }))
  }));

  const iframes = Array.from(document.querySelectorAll('iframe')).filter(visible)
    .slice(0, 10).map(fr => ({
      selector: cssPath(fr),
      url: fr.getAttribute('src') || '',
      title: clean(fr.getAttribute('title'))
    }));

  return {
    title: document.title,
    url: location.href,
    headings: headings,
    interactive: interactive,
    forms: forms,
    dom_preview: (document.body ? document.body.innerText : '').replace(/\n{3,}/g, '\n\n').slice(0, MAX_DOM),
    iframes: iframes
  };
})()`

// Capture reads the raw page state in one evaluate round trip.
func Capture(ctx context.Context, page schemas.PageSurface) (RawPage, error) {
	var raw RawPage
	if err := page.Evaluate(ctx, pageStateJS, &raw); err != nil {
		return RawPage{}, err
	}
	return raw, nil
}
