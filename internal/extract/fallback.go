// internal/extract/fallback.go
package extract

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/tools"
)

// fallbackTools are the read-only extractors consulted, in order, when a run
// ends without data.
var fallbackTools = []string{"extract.emails", "extract.phones", "extract.links", "articles.extract"}

// Fallback is the deterministic-extraction collaborator: it sweeps the page
// with the registry's read-only extractors and merges whatever they find.
type Fallback struct {
	registry *tools.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

var _ schemas.Extractor = (*Fallback)(nil)

// NewFallback wires the extractor over an existing tool registry.
func NewFallback(registry *tools.Registry, timeout time.Duration, logger *zap.Logger) *Fallback {
	return &Fallback{
		registry: registry,
		timeout:  timeout,
		logger:   logger.Named("extract.fallback"),
	}
}

// Extract runs each extractor tool and keeps its non-empty payload keys. An
// empty map with a nil error means the sweep found nothing.
func (f *Fallback) Extract(ctx context.Context, page schemas.PageSurface) (map[string]interface{}, error) {
	data := make(map[string]interface{})
	for _, tool := range fallbackTools {
		result := f.registry.Dispatch(ctx, page, tool, nil, f.timeout)
		if msg := result.Err(); msg != "" {
			f.logger.Debug("Fallback extractor failed.", zap.String("tool", tool), zap.String("error", msg))
			continue
		}
		for key, value := range result {
			if nonEmpty(value) {
				data[key] = value
			}
		}
	}
	return data, nil
}

// nonEmpty filters out zero-length collections and blank strings so the
// merged payload only carries real findings.
func nonEmpty(v interface{}) bool {
	switch value := v.(type) {
	case nil:
		return false
	case string:
		return value != ""
	case []string:
		return len(value) > 0
	case []interface{}:
		return len(value) > 0
	case []map[string]interface{}:
		return len(value) > 0
	case map[string]interface{}:
		return len(value) > 0
	case int:
		return value > 0
	case float64:
		return value > 0
	default:
		return true
	}
}
