// internal/oracle/factory.go
package oracle

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// NewProvider constructs the oracle backend named by the configuration.
func NewProvider(cfg config.OracleConfig, logger *zap.Logger) (schemas.OracleProvider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIProvider(cfg, logger)
	case config.ProviderGemini:
		return NewGeminiProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown oracle provider: %q", cfg.Provider)
	}
}
