// internal/browser/surface.go
package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// Surface couples the page capability set with its teardown.
type Surface interface {
	schemas.PageSurface
	Close() error
}

// NewSurface constructs the configured page binding.
func NewSurface(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (Surface, error) {
	switch cfg.Binding {
	case "", "chromedp":
		return NewChromedpPage(ctx, cfg, logger)
	case "playwright":
		return NewPlaywrightPage(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown browser binding %q", cfg.Binding)
	}
}
