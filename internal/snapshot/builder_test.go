// internal/snapshot/builder_test.go
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// evalPage serves one canned JSON document for every Evaluate call.
type evalPage struct {
	state string
	err   error
}

func (p evalPage) Navigate(ctx context.Context, url string) error { return nil }
func (p evalPage) Evaluate(ctx context.Context, script string, out interface{}) error {
	if p.err != nil {
		return p.err
	}
	return json.Unmarshal([]byte(p.state), out)
}
func (p evalPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}
func (p evalPage) Fill(ctx context.Context, selector, value string) error  { return nil }
func (p evalPage) Wait(ctx context.Context, d time.Duration) error         { return nil }
func (p evalPage) Screenshot(ctx context.Context, path string) error       { return nil }

var _ schemas.PageSurface = evalPage{}

func testRaw() RawPage {
	return RawPage{
		Title:    " Example Shop ",
		URL:      "https://example.com",
		Headings: []string{"Welcome", "  ", "Products"},
		Interactive: []schemas.InteractiveElement{
			{Tag: "a", Text: "About", Selector: "#about", Href: "/about"},
			{Tag: "div", Selector: "#decoration"},
			{Tag: "input", Type: "text", Selector: "#q"},
		},
		Forms: []schemas.FormSummary{
			{Selector: "#search", Fields: []schemas.FormField{
				{Name: "q", Type: "text", Label: "Search", Selector: "#q", Value: "shoes"},
			}},
			{Selector: "#empty"},
		},
		DOMPreview: strings.Repeat("lorem ipsum dolor sit amet ", 200),
		Iframes: []schemas.IframeSummary{
			{Selector: "#ad", URL: "https://ads.example.com"},
			{Selector: "#blank"},
		},
	}
}

func testRC() config.RunConfig {
	return config.NewDefaultConfig().Run
}

func TestBuildLevelsDiscloseProgressively(t *testing.T) {
	b := NewBuilder(zaptest.NewLogger(t))
	raw := testRaw()
	rc := testRC()

	// Step 1: title, url, headings only.
	snap := b.Build(raw, 1, false, rc)
	assert.Equal(t, "Example Shop", snap.Title)
	assert.Equal(t, []string{"Welcome", "Products"}, snap.Headings)
	assert.Nil(t, snap.Interactive)
	assert.Nil(t, snap.Forms)
	assert.Empty(t, snap.DOMPreview)
	assert.Nil(t, snap.Iframes)

	// Step 3: interactive elements and simplified forms appear.
	snap = b.Build(raw, 3, false, rc)
	require.NotNil(t, snap.Interactive)
	require.Len(t, snap.Forms, 1)
	assert.Empty(t, snap.Forms[0].Fields[0].Label, "simplified forms drop labels")
	assert.Empty(t, snap.Forms[0].Fields[0].Value, "simplified forms drop values")
	assert.Empty(t, snap.DOMPreview)

	// Step 5: DOM preview appears.
	snap = b.Build(raw, 5, false, rc)
	assert.NotEmpty(t, snap.DOMPreview)
	assert.Nil(t, snap.Iframes)

	// Step 7: everything.
	snap = b.Build(raw, 7, false, rc)
	require.Len(t, snap.Iframes, 1)
	assert.Equal(t, "#ad", snap.Iframes[0].Selector)
}

func TestBuildDepthEscalationRaisesLevel(t *testing.T) {
	b := NewBuilder(zaptest.NewLogger(t))
	raw := testRaw()

	rc := testRC()
	rc.DepthLevel = 2
	snap := b.Build(raw, 1, false, rc)
	assert.NotEmpty(t, snap.DOMPreview, "depth 2 exposes the preview early")
	assert.Nil(t, snap.Iframes)

	rc.DepthLevel = 3
	snap = b.Build(raw, 1, false, rc)
	assert.NotEmpty(t, snap.DOMPreview)
	assert.NotNil(t, snap.Iframes)
}

func TestBuildFormOrientedNeverGatesForms(t *testing.T) {
	b := NewBuilder(zaptest.NewLogger(t))
	raw := testRaw()
	rc := testRC()

	snap := b.Build(raw, 1, true, rc)
	require.Len(t, snap.Forms, 1)
	// Full field detail, not the simplified shape.
	assert.Equal(t, "Search", snap.Forms[0].Fields[0].Label)
	assert.Equal(t, "shoes", snap.Forms[0].Fields[0].Value)
}

func TestBuildPrunesEmptyEntries(t *testing.T) {
	b := NewBuilder(zaptest.NewLogger(t))
	raw := testRaw()
	rc := testRC()

	snap := b.Build(raw, 7, false, rc)

	for _, el := range snap.Interactive {
		assert.NotEqual(t, "#decoration", el.Selector, "text-less non-input elements are pruned")
	}
	for _, f := range snap.Forms {
		assert.NotEmpty(t, f.Fields, "field-less forms are pruned")
	}
	for _, fr := range snap.Iframes {
		assert.NotEqual(t, "#blank", fr.Selector, "src-less iframes are pruned")
	}
}

func TestBuildCapsDOMPreview(t *testing.T) {
	b := NewBuilder(zaptest.NewLogger(t))
	raw := testRaw()

	rc := testRC()
	rc.DOMPreviewChars = 100
	rc.DOMPreviewMaxChars = 100

	snap := b.Build(raw, 5, false, rc)
	assert.LessOrEqual(t, len(snap.DOMPreview), 100)
	assert.True(t, strings.HasSuffix(snap.DOMPreview, "...[truncated]"))
}

func TestContextBudgetMonotoneAndCapped(t *testing.T) {
	rc := testRC()
	rc.BaseContextChars = 4000
	rc.ContextGrowthPerStep = 1000
	rc.MaxContextChars = 8000

	prev := 0
	for step := 1; step <= 10; step++ {
		budget := ContextBudget(step, rc)
		assert.GreaterOrEqual(t, budget, prev)
		assert.LessOrEqual(t, budget, rc.MaxContextChars)
		prev = budget
	}
	assert.Equal(t, 5000, ContextBudget(1, rc))
	assert.Equal(t, 8000, ContextBudget(10, rc))
}

func TestDOMBudgetScalesWithDepth(t *testing.T) {
	rc := testRC()
	rc.DOMPreviewChars = 2500
	rc.DOMPreviewMaxChars = 6000

	rc.DepthLevel = 1
	assert.Equal(t, 2500, DOMBudget(rc))
	rc.DepthLevel = 2
	assert.Equal(t, 5000, DOMBudget(rc))
	rc.DepthLevel = 3
	assert.Equal(t, 6000, DOMBudget(rc))
}

func TestBuildFromPageReportsCaptureFailure(t *testing.T) {
	b := NewBuilder(zaptest.NewLogger(t))
	page := evalPage{err: errors.New("execution context destroyed")}

	snap := b.BuildFromPage(context.Background(), page, 1, false, testRC())
	require.NotNil(t, snap.Status)
	assert.Contains(t, snap.Status.Error, "execution context destroyed")
	assert.Empty(t, snap.Title)
}

func TestBuildFromPageUsesCapturedState(t *testing.T) {
	b := NewBuilder(zaptest.NewLogger(t))
	page := evalPage{state: `{"title": "Hello", "url": "https://example.com", "headings": ["Hi"]}`}

	snap := b.BuildFromPage(context.Background(), page, 1, false, testRC())
	assert.Nil(t, snap.Status)
	assert.Equal(t, "Hello", snap.Title)
	assert.Equal(t, []string{"Hi"}, snap.Headings)
}

func TestFormOriented(t *testing.T) {
	assert.True(t, FormOriented("Fill the contact form"))
	assert.True(t, FormOriented("submit name=Jane"))
	assert.True(t, FormOriented("Subscribe to the newsletter"))
	assert.False(t, FormOriented("extract all product prices"))
	assert.False(t, FormOriented("click the first headline"))
}

func TestFingerprintOf(t *testing.T) {
	a := schemas.StateSnapshot{
		URL: "https://example.com", Title: "Home",
		Interactive: []schemas.InteractiveElement{{Selector: "#a"}},
		DOMPreview:  "abcd",
	}
	b := a
	assert.Equal(t, FingerprintOf(a), FingerprintOf(b))

	b.DOMPreview = "wxyz" // same length, still equal
	assert.Equal(t, FingerprintOf(a), FingerprintOf(b))

	b.DOMPreview = "abcde"
	assert.NotEqual(t, FingerprintOf(a), FingerprintOf(b))

	c := a
	c.URL = "https://example.com/next"
	assert.NotEqual(t, FingerprintOf(a), FingerprintOf(c))
}
