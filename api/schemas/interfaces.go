// api/schemas/interfaces.go
package schemas

import (
	"context"
	"time"
)

// PageSurface is the narrow capability interface over a live browser page.
// Any binding implementing this set is acceptable to the orchestrator; the
// repository ships a chromedp binding and a playwright binding.
type PageSurface interface {
	// Navigate loads the given URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error

	// Evaluate runs a script in the page and unmarshals its JSON result
	// into out. Pass nil to discard the result.
	Evaluate(ctx context.Context, script string, out interface{}) error

	// Click clicks the first element matching selector, bounded by timeout.
	Click(ctx context.Context, selector string, timeout time.Duration) error

	// Fill sets the value of the first element matching selector.
	Fill(ctx context.Context, selector, value string) error

	// Wait suspends the run for the given duration.
	Wait(ctx context.Context, d time.Duration) error

	// Screenshot captures the viewport to path.
	Screenshot(ctx context.Context, path string) error
}

// OracleProvider abstracts one LLM backend. The oracle client owns prompt
// construction and response parsing; providers only move text.
type OracleProvider interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Extractor is the deterministic-extraction collaborator consulted when a
// run terminates without data.
type Extractor interface {
	Extract(ctx context.Context, page PageSurface) (map[string]interface{}, error)
}
