// internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// ChromedpPage implements schemas.PageSurface over a dedicated Chrome tab.
// Each instance owns its allocator and tab context; instances are not safe
// for concurrent use, matching the one-loop-one-page run model.
type ChromedpPage struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *zap.Logger
}

var _ schemas.PageSurface = (*ChromedpPage)(nil)

// NewChromedpPage launches a browser and opens one tab.
func NewChromedpPage(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*ChromedpPage, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
	)
	if cfg.DisableCache {
		opts = append(opts, chromedp.Flag("disable-application-cache", true))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ProxyAddress != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyAddress))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// Force the browser process to start so failures surface here, not on
	// the first navigation.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &ChromedpPage{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger.Named("chromedp"),
	}, nil
}

// run executes actions bound to both the tab lifetime and the caller context.
func (p *ChromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := mergeContexts(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (p *ChromedpPage) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating", zap.String("url", url))
	return p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (p *ChromedpPage) Evaluate(ctx context.Context, script string, out interface{}) error {
	// A nil out lets chromedp discard the result, which also sidesteps the
	// undefined-value error statements would otherwise produce.
	if out == nil {
		return p.run(ctx, chromedp.Evaluate(script, nil))
	}
	return p.run(ctx, chromedp.Evaluate(script, out))
}

func (p *ChromedpPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	clickCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		clickCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.run(clickCtx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *ChromedpPage) Fill(ctx context.Context, selector, value string) error {
	// SetValue alone does not fire the events reactive form frameworks
	// listen for, so input and change are dispatched explicitly.
	dispatch := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (el) { el.dispatchEvent(new Event('input', {bubbles:true})); el.dispatchEvent(new Event('change', {bubbles:true})); } })()`,
		selector,
	)
	return p.run(ctx,
		chromedp.SetValue(selector, value, chromedp.ByQuery),
		chromedp.Evaluate(dispatch, nil),
	)
}

func (p *ChromedpPage) Wait(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

func (p *ChromedpPage) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	capture := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			Do(ctx)
		return err
	})
	if err := p.run(ctx, capture); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create screenshot dir: %w", err)
		}
	}
	return os.WriteFile(path, buf, 0o644)
}

// Close tears down the tab and the browser process.
func (p *ChromedpPage) Close() error {
	p.cancelTab()
	p.cancelAlloc()
	return nil
}

// mergeContexts returns a context derived from primary that is also canceled
// when secondary is done. chromedp actions must run on the tab context, but
// per-call deadlines arrive on the caller's.
func mergeContexts(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(primary)
	if deadline, ok := secondary.Deadline(); ok {
		merged, cancel = context.WithDeadline(primary, deadline)
	}
	stop := context.AfterFunc(secondary, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
