// internal/agent/retry.go
package agent

import (
	"go.uber.org/zap"
)

// toolAlternatives offers one substitute per tool once retries are spent.
var toolAlternatives = map[string]string{
	"form.fill": "llm_guided_field_fill",
	"click":     "navigate",
}

// RetryStats summarizes a tool's failure record.
type RetryStats struct {
	Failures       int
	DistinctErrors int
	LastError      string
}

// RetryManager bounds repeated retries of a tool failing with the same error
// string. One instance per run; never shared.
type RetryManager struct {
	maxSameError int
	errors       map[string][]string
	logger       *zap.Logger
}

// NewRetryManager returns a manager allowing each identical (tool, error)
// pair maxSameError retries.
func NewRetryManager(maxSameError int, logger *zap.Logger) *RetryManager {
	if maxSameError < 1 {
		maxSameError = 1
	}
	return &RetryManager{
		maxSameError: maxSameError,
		errors:       make(map[string][]string),
		logger:       logger.Named("retry"),
	}
}

// ShouldRetry reports whether the tool may be retried after failing with the
// given error. A true answer records the error as a side effect; once the
// identical error has been recorded maxSameError times the answer is false
// permanently. Different error strings for the same tool keep independent
// counts.
func (m *RetryManager) ShouldRetry(tool, errMsg string) bool {
	seen := 0
	for _, e := range m.errors[tool] {
		if e == errMsg {
			seen++
		}
	}
	if seen >= m.maxSameError {
		m.logger.Warn("Retry budget exhausted for tool.",
			zap.String("tool", tool),
			zap.String("error", errMsg),
			zap.Int("occurrences", seen))
		return false
	}
	m.errors[tool] = append(m.errors[tool], errMsg)
	return true
}

// Alternative returns the substitute tool for a permanently failing one.
func (m *RetryManager) Alternative(tool string) (string, bool) {
	alt, ok := toolAlternatives[tool]
	return alt, ok
}

// Summary reports the failure record for one tool.
func (m *RetryManager) Summary(tool string) RetryStats {
	record := m.errors[tool]
	distinct := make(map[string]struct{}, len(record))
	for _, e := range record {
		distinct[e] = struct{}{}
	}
	stats := RetryStats{
		Failures:       len(record),
		DistinctErrors: len(distinct),
	}
	if len(record) > 0 {
		stats.LastError = record[len(record)-1]
	}
	return stats
}
