// internal/agent/retry_test.go
package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestShouldRetryBoundsIdenticalErrors(t *testing.T) {
	m := NewRetryManager(2, zaptest.NewLogger(t))

	assert.True(t, m.ShouldRetry("form.fill", "selector not found"))
	assert.True(t, m.ShouldRetry("form.fill", "selector not found"))
	assert.False(t, m.ShouldRetry("form.fill", "selector not found"))
	// Permanent: asking again does not reopen the budget.
	assert.False(t, m.ShouldRetry("form.fill", "selector not found"))
}

func TestShouldRetryCountsErrorStringsIndependently(t *testing.T) {
	m := NewRetryManager(2, zaptest.NewLogger(t))

	assert.True(t, m.ShouldRetry("click", "element not visible"))
	assert.True(t, m.ShouldRetry("click", "element not visible"))
	assert.False(t, m.ShouldRetry("click", "element not visible"))

	// A different message for the same tool starts a fresh count.
	assert.True(t, m.ShouldRetry("click", "node detached"))

	// And a different tool with the spent message is untouched.
	assert.True(t, m.ShouldRetry("navigate", "element not visible"))
}

func TestShouldRetryClampsBudgetToOne(t *testing.T) {
	m := NewRetryManager(0, zaptest.NewLogger(t))
	assert.True(t, m.ShouldRetry("form.fill", "timeout"))
	assert.False(t, m.ShouldRetry("form.fill", "timeout"))
}

func TestAlternative(t *testing.T) {
	m := NewRetryManager(2, zaptest.NewLogger(t))

	alt, ok := m.Alternative("form.fill")
	assert.True(t, ok)
	assert.Equal(t, "llm_guided_field_fill", alt)

	alt, ok = m.Alternative("click")
	assert.True(t, ok)
	assert.Equal(t, "navigate", alt)

	_, ok = m.Alternative("extract.links")
	assert.False(t, ok)
}

func TestSummary(t *testing.T) {
	m := NewRetryManager(3, zaptest.NewLogger(t))
	m.ShouldRetry("form.fill", "selector not found")
	m.ShouldRetry("form.fill", "selector not found")
	m.ShouldRetry("form.fill", "invalid value")

	stats := m.Summary("form.fill")
	assert.Equal(t, 3, stats.Failures)
	assert.Equal(t, 2, stats.DistinctErrors)
	assert.Equal(t, "invalid value", stats.LastError)

	assert.Equal(t, RetryStats{}, m.Summary("navigate"))
}
