// internal/browser/playwright.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// PlaywrightPage implements schemas.PageSurface over playwright-go. It
// exists because some targets detect raw CDP automation; the orchestrator
// is indifferent to which binding it is handed.
type PlaywrightPage struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	logger  *zap.Logger
}

var _ schemas.PageSurface = (*PlaywrightPage)(nil)

// NewPlaywrightPage launches a Chromium instance through playwright and
// opens one page.
func NewPlaywrightPage(cfg config.BrowserConfig, logger *zap.Logger) (*PlaywrightPage, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     cfg.Args,
	}
	if cfg.ProxyAddress != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: cfg.ProxyAddress}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	pageOpts := playwright.BrowserNewPageOptions{
		IgnoreHttpsErrors: playwright.Bool(cfg.IgnoreTLSErrors),
	}
	if cfg.UserAgent != "" {
		pageOpts.UserAgent = playwright.String(cfg.UserAgent)
	}

	page, err := browser.NewPage(pageOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &PlaywrightPage{
		pw:      pw,
		browser: browser,
		page:    page,
		logger:  logger.Named("playwright"),
	}, nil
}

func (p *PlaywrightPage) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating", zap.String("url", url))
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (p *PlaywrightPage) Evaluate(ctx context.Context, script string, out interface{}) error {
	value, err := p.page.Evaluate(script)
	if err != nil {
		return err
	}
	if out == nil || value == nil {
		return nil
	}
	// Bridge playwright's loosely typed result through JSON into the
	// caller's shape, mirroring what the CDP binding does natively.
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluate result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

func (p *PlaywrightPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	opts := playwright.PageClickOptions{}
	if timeout > 0 {
		opts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}
	return p.page.Click(selector, opts)
}

func (p *PlaywrightPage) Fill(ctx context.Context, selector, value string) error {
	return p.page.Fill(selector, value)
}

func (p *PlaywrightPage) Wait(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PlaywrightPage) Screenshot(ctx context.Context, path string) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path: playwright.String(path),
	})
	return err
}

// Close tears down the page, browser, and playwright driver.
func (p *PlaywrightPage) Close() error {
	if err := p.page.Close(); err != nil {
		p.logger.Warn("Failed to close page", zap.Error(err))
	}
	if err := p.browser.Close(); err != nil {
		p.logger.Warn("Failed to close browser", zap.Error(err))
	}
	return p.pw.Stop()
}
