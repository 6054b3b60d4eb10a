// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "webpilot", cfg.Logger.ServiceName)

	assert.Equal(t, "chromedp", cfg.Browser.Binding)
	assert.True(t, cfg.Browser.Headless)

	assert.Equal(t, ProviderOpenAI, cfg.Oracle.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Oracle.Model)
	assert.Equal(t, 30*time.Second, cfg.Oracle.APITimeout)

	assert.Equal(t, 15, cfg.Run.MaxSteps)
	assert.Equal(t, 4000, cfg.Run.BaseContextChars)
	assert.Equal(t, 1000, cfg.Run.ContextGrowthPerStep)
	assert.Equal(t, 16000, cfg.Run.MaxContextChars)
	assert.Equal(t, 2500, cfg.Run.DOMPreviewChars)
	assert.Equal(t, 12000, cfg.Run.DOMPreviewMaxChars)
	assert.Equal(t, 3, cfg.Run.StallLimit)
	assert.Equal(t, 2, cfg.Run.MaxSameError)
	assert.Equal(t, 45*time.Second, cfg.Run.NavigationTimeout)
	assert.Equal(t, 20*time.Second, cfg.Run.ToolTimeout)
	assert.Equal(t, "screenshots", cfg.Run.ScreenshotDir)

	// Runtime-escalated fields are seeded by Normalized.
	assert.Equal(t, cfg.Run.BaseContextChars, cfg.Run.ContextChars)
	assert.Equal(t, 1, cfg.Run.DepthLevel)

	assert.False(t, cfg.Store.Enabled)
	assert.False(t, cfg.Proxy.Enabled)
	assert.False(t, cfg.Publish.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestNormalizedClampsDegenerateValues(t *testing.T) {
	rc := RunConfig{
		MaxSteps:           -1,
		BaseContextChars:   0,
		MaxContextChars:    10, // below base, lifted to base
		DOMPreviewChars:    0,
		DOMPreviewMaxChars: 0,
		StallLimit:         0,
		MaxSameError:       -3,
	}.Normalized()

	assert.Equal(t, 15, rc.MaxSteps)
	assert.Equal(t, 4000, rc.BaseContextChars)
	assert.Equal(t, 4000, rc.MaxContextChars)
	assert.Equal(t, 2500, rc.DOMPreviewChars)
	assert.Equal(t, 2500, rc.DOMPreviewMaxChars)
	assert.Equal(t, 3, rc.StallLimit)
	assert.Equal(t, 2, rc.MaxSameError)
	assert.Equal(t, 4000, rc.ContextChars)
	assert.Equal(t, 1, rc.DepthLevel)
}

func TestNormalizedPreservesExplicitValues(t *testing.T) {
	rc := RunConfig{
		MaxSteps:           5,
		BaseContextChars:   6000,
		MaxContextChars:    20000,
		DOMPreviewChars:    3000,
		DOMPreviewMaxChars: 9000,
		StallLimit:         7,
		MaxSameError:       4,
	}.Normalized()

	assert.Equal(t, 5, rc.MaxSteps)
	assert.Equal(t, 20000, rc.MaxContextChars)
	assert.Equal(t, 9000, rc.DOMPreviewMaxChars)
	assert.Equal(t, 7, rc.StallLimit)
	assert.Equal(t, 4, rc.MaxSameError)
	assert.Equal(t, 6000, rc.ContextChars)
	assert.Equal(t, 1, rc.DepthLevel)
}

func TestValidate(t *testing.T) {
	t.Run("rejects unknown browser binding", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Browser.Binding = "selenium"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.binding")
	})

	t.Run("rejects unknown oracle provider", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Oracle.Provider = "anthropic"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "oracle.provider")
	})

	t.Run("rejects negative context growth", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Run.ContextGrowthPerStep = -1
		require.Error(t, cfg.Validate())
	})

	t.Run("store requires url when enabled", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Store.Enabled = true
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store.url")

		cfg.Store.URL = "postgres://localhost/webpilot"
		require.NoError(t, cfg.Validate())
	})

	t.Run("proxy requires upstreams when enabled", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Proxy.Enabled = true
		require.Error(t, cfg.Validate())

		cfg.Proxy.Upstreams = []string{"http://upstream:3128"}
		require.NoError(t, cfg.Validate())
	})

	t.Run("publish requires endpoint when enabled", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Publish.Enabled = true
		require.Error(t, cfg.Validate())

		cfg.Publish.Endpoint = "https://blog.example.com/xmlrpc.php"
		require.NoError(t, cfg.Validate())
	})
}

func TestNewConfigFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("run.max_steps", 3)
	v.Set("oracle.provider", "gemini")
	v.Set("oracle.model", "gemini-2.0-flash")

	t.Setenv("WEBPILOT_ORACLE_API_KEY", "test-key-123")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Run.MaxSteps)
	assert.Equal(t, ProviderGemini, cfg.Oracle.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.Oracle.Model)
	assert.Equal(t, "test-key-123", cfg.Oracle.APIKey, "api key binds from the environment")
	assert.Equal(t, 1, cfg.Run.DepthLevel, "run config is normalized")
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("browser.binding", "phantomjs")

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
