// internal/agent/progress.go
package agent

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
	"github.com/xkilldash9x/webpilot-cli/internal/snapshot"
)

// maxDepthLevel is the top escalation tier for page detail.
const maxDepthLevel = 3

// ProgressTracker watches consecutive snapshots for structural change. When
// the page stops changing it escalates the run's depth level (which widens
// the DOM budget) before finally signaling the loop to break. One instance
// per run; never shared.
type ProgressTracker struct {
	logger *zap.Logger

	last            snapshot.Fingerprint
	seeded          bool
	noProgressCount int
}

// NewProgressTracker returns a tracker with no observed snapshot yet.
func NewProgressTracker(logger *zap.Logger) *ProgressTracker {
	return &ProgressTracker{logger: logger.Named("progress")}
}

// NoProgressCount reports the current stall streak length.
func (t *ProgressTracker) NoProgressCount() int { return t.noProgressCount }

// Tick observes one snapshot and updates the run's escalation state. It
// mutates rc.DepthLevel and rc.ContextChars in place and reports whether the
// stall policy is exhausted. On a fingerprint change the streak and depth
// reset so a recovered page starts from minimal detail again.
func (t *ProgressTracker) Tick(snap schemas.StateSnapshot, rc *config.RunConfig) (shouldBreak bool) {
	fp := snapshot.FingerprintOf(snap)

	if !t.seeded {
		t.seeded = true
		t.last = fp
		return false
	}

	if fp != t.last {
		t.last = fp
		t.noProgressCount = 0
		rc.DepthLevel = 1
		return false
	}

	t.noProgressCount++

	if t.noProgressCount >= rc.StallLimit {
		if rc.DepthLevel < maxDepthLevel {
			// One more chance at maximum detail before giving up.
			rc.DepthLevel = maxDepthLevel
			t.noProgressCount = rc.StallLimit - 1
			t.escalateContext(rc)
			t.logger.Info("Stall limit hit, forcing maximum depth.",
				zap.Int("depth_level", rc.DepthLevel),
				zap.Int("dom_budget", snapshot.DOMBudget(*rc)))
			return false
		}
		t.logger.Warn("Stall limit exhausted at maximum depth, breaking.",
			zap.Int("no_progress_count", t.noProgressCount))
		return true
	}

	if t.noProgressCount > 1 {
		if rc.DepthLevel < maxDepthLevel {
			rc.DepthLevel++
		}
		t.escalateContext(rc)
		t.logger.Debug("No progress, raising depth level.",
			zap.Int("no_progress_count", t.noProgressCount),
			zap.Int("depth_level", rc.DepthLevel),
			zap.Int("dom_budget", snapshot.DOMBudget(*rc)))
	}

	return false
}

// escalateContext widens the serialized-snapshot budget alongside the depth
// raise, bounded by the run's hard cap.
func (t *ProgressTracker) escalateContext(rc *config.RunConfig) {
	next := rc.ContextChars + rc.ContextGrowthPerStep
	if next > rc.MaxContextChars {
		next = rc.MaxContextChars
	}
	if next > rc.ContextChars {
		rc.ContextChars = next
	}
}
