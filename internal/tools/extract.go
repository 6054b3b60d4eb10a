// internal/tools/extract.go
package tools

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

var (
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRegex = regexp.MustCompile(`\+?\d[\d\s().\-]{6,}\d`)
	priceRegex = regexp.MustCompile(`(?:[$€£]\s?\d{1,6}(?:[.,]\d{1,2})?|\d{1,6}(?:[.,]\d{1,2})?\s?(?:USD|EUR|GBP|TL|₺))`)
)

const defaultLinkLimit = 50

// pageDocument fetches the page (or a selector-scoped fragment) as a parsed
// HTML tree together with the page URL for resolving relative hrefs.
func pageDocument(ctx context.Context, page schemas.PageSurface, selector string) (*html.Node, *url.URL, error) {
	script := `document.documentElement ? document.documentElement.outerHTML : ""`
	if selector != "" {
		script = fmt.Sprintf(`(() => { const el = document.querySelector(%q); return el ? el.outerHTML : ""; })()`, selector)
	}
	var raw string
	if err := page.Evaluate(ctx, script, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to read page HTML: %w", err)
	}
	if raw == "" {
		return nil, nil, fmt.Errorf("no content matched selector %q", selector)
	}

	var loc string
	if err := page.Evaluate(ctx, `location.href`, &loc); err != nil {
		loc = ""
	}
	base, _ := url.Parse(loc)

	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse page HTML: %w", err)
	}
	return doc, base, nil
}

// walk visits every element node in document order.
func walk(n *html.Node, visit func(*html.Node)) {
	if n.Type == html.ElementNode {
		visit(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// nodeText flattens the text content of a node, collapsing whitespace.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func resolveHref(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// -- extract.emails --

type emailsTool struct{}

func (emailsTool) Name() string        { return "extract.emails" }
func (emailsTool) Description() string { return "Collect all email addresses visible on the page" }
func (emailsTool) Schema() string      { return `{"type":"object","additionalProperties":false}` }

func (emailsTool) Execute(ctx context.Context, page schemas.PageSurface, _ map[string]interface{}) schemas.ToolResult {
	doc, _, err := pageDocument(ctx, page, "")
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}

	seen := make(map[string]struct{})
	walk(doc, func(n *html.Node) {
		if n.Data == "a" {
			if href := attr(n, "href"); strings.HasPrefix(href, "mailto:") {
				addr := strings.SplitN(strings.TrimPrefix(href, "mailto:"), "?", 2)[0]
				if emailRegex.MatchString(addr) {
					seen[strings.ToLower(addr)] = struct{}{}
				}
			}
		}
	})
	for _, m := range emailRegex.FindAllString(nodeText(doc), -1) {
		seen[strings.ToLower(m)] = struct{}{}
	}

	emails := make([]string, 0, len(seen))
	for addr := range seen {
		emails = append(emails, addr)
	}
	sort.Strings(emails)
	return schemas.ToolResult{"emails": emails}
}

// -- extract.phones --

type phonesTool struct{}

func (phonesTool) Name() string        { return "extract.phones" }
func (phonesTool) Description() string { return "Collect phone numbers visible on the page" }
func (phonesTool) Schema() string      { return `{"type":"object","additionalProperties":false}` }

func (phonesTool) Execute(ctx context.Context, page schemas.PageSurface, _ map[string]interface{}) schemas.ToolResult {
	doc, _, err := pageDocument(ctx, page, "")
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}

	seen := make(map[string]struct{})
	add := func(candidate string) {
		digits := 0
		for _, r := range candidate {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits >= 7 && digits <= 15 {
			seen[strings.TrimSpace(candidate)] = struct{}{}
		}
	}
	walk(doc, func(n *html.Node) {
		if n.Data == "a" {
			if href := attr(n, "href"); strings.HasPrefix(href, "tel:") {
				add(strings.TrimPrefix(href, "tel:"))
			}
		}
	})
	for _, m := range phoneRegex.FindAllString(nodeText(doc), -1) {
		add(m)
	}

	phones := make([]string, 0, len(seen))
	for p := range seen {
		phones = append(phones, p)
	}
	sort.Strings(phones)
	return schemas.ToolResult{"phones": phones}
}

// -- extract.links --

type linksTool struct{}

func (linksTool) Name() string        { return "extract.links" }
func (linksTool) Description() string { return "Collect links, optionally filtered by selector scope, href substring/regex, or link-text regex" }
func (linksTool) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"selector": {"type": "string"},
			"href_includes": {"type": "string"},
			"href_regex": {"type": "string"},
			"text_regex": {"type": "string"},
			"limit": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`
}

func (linksTool) Execute(ctx context.Context, page schemas.PageSurface, args map[string]interface{}) schemas.ToolResult {
	selector, _ := args["selector"].(string)
	hrefIncludes, _ := args["href_includes"].(string)

	var hrefRe, textRe *regexp.Regexp
	var err error
	if pattern, ok := args["href_regex"].(string); ok && pattern != "" {
		if hrefRe, err = regexp.Compile(pattern); err != nil {
			return schemas.ErrorResult(fmt.Sprintf("bad href_regex: %v", err))
		}
	}
	if pattern, ok := args["text_regex"].(string); ok && pattern != "" {
		if textRe, err = regexp.Compile(pattern); err != nil {
			return schemas.ErrorResult(fmt.Sprintf("bad text_regex: %v", err))
		}
	}
	limit := defaultLinkLimit
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}

	doc, base, err := pageDocument(ctx, page, selector)
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}

	links := make([]map[string]interface{}, 0, 16)
	seen := make(map[string]struct{})
	walk(doc, func(n *html.Node) {
		if n.Data != "a" || len(links) >= limit {
			return
		}
		href := attr(n, "href")
		if href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		text := nodeText(n)
		if hrefIncludes != "" && !strings.Contains(href, hrefIncludes) {
			return
		}
		if hrefRe != nil && !hrefRe.MatchString(href) {
			return
		}
		if textRe != nil && !textRe.MatchString(text) {
			return
		}
		resolved := resolveHref(base, href)
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, map[string]interface{}{"text": text, "href": resolved})
	})

	return schemas.ToolResult{"links": links}
}

// -- articles.extract --

type articlesTool struct{}

func (articlesTool) Name() string        { return "articles.extract" }
func (articlesTool) Description() string { return "Collect article titles and URLs from a listing page" }
func (articlesTool) Schema() string      { return `{"type":"object","additionalProperties":false}` }

func (articlesTool) Execute(ctx context.Context, page schemas.PageSurface, _ map[string]interface{}) schemas.ToolResult {
	doc, base, err := pageDocument(ctx, page, "")
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}

	articles := make([]map[string]interface{}, 0, 8)
	seen := make(map[string]struct{})
	add := func(title, href string) {
		title = strings.TrimSpace(title)
		if title == "" || href == "" {
			return
		}
		resolved := resolveHref(base, href)
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		articles = append(articles, map[string]interface{}{"title": title, "url": resolved})
	}

	// Anchors wrapping or wrapped by headings are the strongest signal;
	// <article> containers come second.
	walk(doc, func(n *html.Node) {
		switch n.Data {
		case "h1", "h2", "h3":
			if a := firstAnchor(n); a != nil {
				add(nodeText(n), attr(a, "href"))
			}
		case "article":
			if a := firstAnchor(n); a != nil {
				title := nodeText(a)
				if h := firstHeading(n); h != nil {
					title = nodeText(h)
				}
				add(title, attr(a, "href"))
			}
		}
	})

	return schemas.ToolResult{"articles": articles}
}

func firstAnchor(n *html.Node) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) {
		if found == nil && c.Data == "a" && attr(c, "href") != "" {
			found = c
		}
	})
	return found
}

func firstHeading(n *html.Node) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) {
		if found == nil {
			switch c.Data {
			case "h1", "h2", "h3", "h4":
				found = c
			}
		}
	})
	return found
}

// -- products.extract --

type productsTool struct{}

func (productsTool) Name() string        { return "products.extract" }
func (productsTool) Description() string { return "Collect product names, prices, and URLs from a listing page" }
func (productsTool) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"threshold": {"type": "number", "minimum": 0}
		},
		"additionalProperties": false
	}`
}

func (productsTool) Execute(ctx context.Context, page schemas.PageSurface, args map[string]interface{}) schemas.ToolResult {
	threshold := 0.0
	if t, ok := args["threshold"].(float64); ok {
		threshold = t
	}

	doc, base, err := pageDocument(ctx, page, "")
	if err != nil {
		return schemas.ErrorResult(err.Error())
	}

	items := make([]map[string]interface{}, 0, 8)
	seen := make(map[string]struct{})
	walk(doc, func(n *html.Node) {
		if !looksLikeProduct(n) {
			return
		}
		text := nodeText(n)
		price := priceRegex.FindString(text)
		if price == "" {
			return
		}
		if threshold > 0 && parsePrice(price) < threshold {
			return
		}

		name := ""
		if h := firstHeading(n); h != nil {
			name = nodeText(h)
		}
		href := ""
		if a := firstAnchor(n); a != nil {
			href = resolveHref(base, attr(a, "href"))
			if name == "" {
				name = nodeText(a)
			}
		}
		if name == "" {
			return
		}
		key := name + "|" + price
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		items = append(items, map[string]interface{}{"name": name, "price": price, "url": href})
	})

	return schemas.ToolResult{"items": items, "count": len(items)}
}

// looksLikeProduct matches containers whose class or itemtype marks them as
// product cards.
func looksLikeProduct(n *html.Node) bool {
	if it := attr(n, "itemtype"); strings.Contains(it, "schema.org/Product") {
		return true
	}
	class := strings.ToLower(attr(n, "class"))
	if class == "" {
		return false
	}
	switch n.Data {
	case "div", "li", "article", "section":
		return strings.Contains(class, "product") || strings.Contains(class, "item-card")
	}
	return false
}

// parsePrice strips currency markers and parses the numeric part, treating a
// trailing two-digit group after , or . as decimals.
func parsePrice(s string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, s)
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if i := strings.LastIndexByte(cleaned, '.'); i >= 0 {
		cleaned = strings.ReplaceAll(cleaned[:i], ".", "") + cleaned[i:]
	}
	var v float64
	fmt.Sscanf(cleaned, "%f", &v)
	return v
}
