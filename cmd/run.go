// -- cmd/run.go --
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/agent"
	"github.com/xkilldash9x/webpilot-cli/internal/browser"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
	"github.com/xkilldash9x/webpilot-cli/internal/diagnose"
	"github.com/xkilldash9x/webpilot-cli/internal/extract"
	"github.com/xkilldash9x/webpilot-cli/internal/observability"
	"github.com/xkilldash9x/webpilot-cli/internal/oracle"
	"github.com/xkilldash9x/webpilot-cli/internal/proxy"
	"github.com/xkilldash9x/webpilot-cli/internal/publish"
	"github.com/xkilldash9x/webpilot-cli/internal/snapshot"
	"github.com/xkilldash9x/webpilot-cli/internal/store"
	"github.com/xkilldash9x/webpilot-cli/internal/tools"
)

// maxConcurrentRuns bounds parallel multi-URL runs; each run owns a browser.
const maxConcurrentRuns = 3

var runFlags struct {
	urls              []string
	instruction       string
	maxSteps          int
	stallLimit        int
	refine            bool
	screenshotDir     string
	navigationTimeout time.Duration
	ignoreTLSErrors   bool
	proxyRotate       bool
	publishResults    bool
	saveResults       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an instruction against one or more URLs",
	Long: `Run drives a browser page through the given natural-language instruction,
asking the decision oracle for one action per step until the instruction
completes or a budget runs out. Multiple --url flags run as independent
concurrent loops.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runFlags.urls, "url", nil, "target URL (repeatable)")
	runCmd.Flags().StringVarP(&runFlags.instruction, "instruction", "i", "", "natural-language instruction")
	runCmd.Flags().IntVar(&runFlags.maxSteps, "max-steps", 0, "override the step budget")
	runCmd.Flags().IntVar(&runFlags.stallLimit, "stall-limit", 0, "override the stall limit")
	runCmd.Flags().BoolVar(&runFlags.refine, "refine", false, "rewrite the instruction once via the oracle before the run")
	runCmd.Flags().StringVar(&runFlags.screenshotDir, "screenshot-dir", "", "directory for terminal screenshots")
	runCmd.Flags().DurationVar(&runFlags.navigationTimeout, "navigation-timeout", 0, "override the navigation timeout")
	runCmd.Flags().BoolVar(&runFlags.ignoreTLSErrors, "ignore-tls-errors", false, "accept invalid TLS certificates")
	runCmd.Flags().BoolVar(&runFlags.proxyRotate, "proxy-rotate", false, "route page traffic through the local proxy rotator")
	runCmd.Flags().BoolVar(&runFlags.publishResults, "publish", false, "publish results to the configured WordPress site")
	runCmd.Flags().BoolVar(&runFlags.saveResults, "save", false, "persist results to the configured database")
	_ = runCmd.MarkFlagRequired("url")
	_ = runCmd.MarkFlagRequired("instruction")

	rootCmd.AddCommand(runCmd)
}

// runOutcome pairs a URL with its run result for reporting and persistence.
type runOutcome struct {
	URL    string         `json:"url"`
	Result schemas.Result `json:"result"`
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()
	cfg := *appConfig

	applyRunFlags(&cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	provider, err := oracle.NewProvider(cfg.Oracle, logger)
	if err != nil {
		return err
	}
	oracleClient := oracle.NewClient(provider, cfg.Oracle, logger)

	registry := tools.NewRegistry(logger)
	builder := snapshot.NewBuilder(logger)
	extractor := extract.NewFallback(registry, cfg.Run.ToolTimeout, logger)
	diagnoser := diagnose.NewClassifier(logger)

	// The rotator, when enabled, runs for the life of the command and every
	// page routes through it.
	proxyCtx, stopProxy := context.WithCancel(ctx)
	defer stopProxy()
	if cfg.Proxy.Enabled {
		rotator, err := proxy.NewRotator(cfg.Proxy, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := rotator.Start(proxyCtx); err != nil {
				logger.Error("Proxy rotator stopped.", zap.Error(err))
			}
		}()
		cfg.Browser.ProxyAddress = rotator.Addr()
	}

	outcomes := make([]runOutcome, len(runFlags.urls))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRuns)
	for i, url := range runFlags.urls {
		g.Go(func() error {
			page, err := browser.NewSurface(gctx, cfg.Browser, logger)
			if err != nil {
				return fmt.Errorf("failed to start browser for %s: %w", url, err)
			}
			defer func() {
				if err := page.Close(); err != nil {
					logger.Warn("Failed to close browser.", zap.String("url", url), zap.Error(err))
				}
			}()

			a := agent.New(page, oracleClient, registry, builder, extractor, diagnoser, logger)
			result := a.Run(gctx, runFlags.instruction, url, cfg.Run)

			mu.Lock()
			outcomes[i] = runOutcome{URL: url, Result: result}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := reportOutcomes(outcomes); err != nil {
		return err
	}

	if cfg.Store.Enabled || runFlags.saveResults {
		if err := persistOutcomes(ctx, cfg.Store.URL, outcomes, logger); err != nil {
			logger.Error("Failed to persist results.", zap.Error(err))
		}
	}
	if cfg.Publish.Enabled || runFlags.publishResults {
		publishOutcomes(ctx, cfg, outcomes, logger)
	}

	for _, o := range outcomes {
		if o.Result.Success {
			return nil
		}
	}
	return fmt.Errorf("all %d run(s) failed", len(outcomes))
}

// applyRunFlags folds CLI overrides into the loaded configuration.
func applyRunFlags(cfg *config.Config) {
	if runFlags.maxSteps > 0 {
		cfg.Run.MaxSteps = runFlags.maxSteps
	}
	if runFlags.stallLimit > 0 {
		cfg.Run.StallLimit = runFlags.stallLimit
	}
	if runFlags.refine {
		cfg.Run.RefineInstruction = true
	}
	if runFlags.screenshotDir != "" {
		cfg.Run.ScreenshotDir = runFlags.screenshotDir
	}
	if runFlags.navigationTimeout > 0 {
		cfg.Run.NavigationTimeout = runFlags.navigationTimeout
	}
	if runFlags.ignoreTLSErrors {
		cfg.Browser.IgnoreTLSErrors = true
	}
	if runFlags.proxyRotate {
		cfg.Proxy.Enabled = true
	}
}

// reportOutcomes writes the result envelopes to stdout as JSON.
func reportOutcomes(outcomes []runOutcome) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(outcomes)
}

// persistOutcomes saves every run to PostgreSQL.
func persistOutcomes(ctx context.Context, dbURL string, outcomes []runOutcome, logger *zap.Logger) error {
	if dbURL == "" {
		return fmt.Errorf("store is enabled but no database URL is configured")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		return err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	for _, o := range outcomes {
		if err := st.SaveResult(ctx, o.URL, runFlags.instruction, o.Result); err != nil {
			return err
		}
	}
	return nil
}

// publishOutcomes posts every run to the configured WordPress site. Publish
// failures are logged, never fatal.
func publishOutcomes(ctx context.Context, cfg config.Config, outcomes []runOutcome, logger *zap.Logger) {
	client, err := publish.New(cfg.Publish, logger)
	if err != nil {
		logger.Error("Publishing disabled.", zap.Error(err))
		return
	}
	for _, o := range outcomes {
		if _, err := client.PublishResult(ctx, o.URL, runFlags.instruction, o.Result); err != nil {
			logger.Error("Failed to publish run.", zap.String("run_id", o.Result.RunID), zap.Error(err))
		}
	}
}
