// internal/agent/progress_test.go
package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

func stallRunConfig() config.RunConfig {
	rc := config.NewDefaultConfig().Run.Normalized()
	rc.StallLimit = 3
	return rc
}

func TestTickSeedsOnFirstSnapshot(t *testing.T) {
	tracker := NewProgressTracker(zaptest.NewLogger(t))
	rc := stallRunConfig()

	snap := schemas.StateSnapshot{URL: "https://example.com", Title: "Home"}
	assert.False(t, tracker.Tick(snap, &rc))
	assert.Equal(t, 0, tracker.NoProgressCount())
	assert.Equal(t, 1, rc.DepthLevel)
}

func TestTickResetsOnChange(t *testing.T) {
	tracker := NewProgressTracker(zaptest.NewLogger(t))
	rc := stallRunConfig()

	a := schemas.StateSnapshot{URL: "https://example.com", Title: "Home"}
	b := schemas.StateSnapshot{URL: "https://example.com/contact", Title: "Contact"}

	tracker.Tick(a, &rc)
	tracker.Tick(a, &rc)
	tracker.Tick(a, &rc) // count 2, depth raised
	require.Equal(t, 2, rc.DepthLevel)

	assert.False(t, tracker.Tick(b, &rc))
	assert.Equal(t, 0, tracker.NoProgressCount())
	assert.Equal(t, 1, rc.DepthLevel)
}

// Four identical observations after the seed: depth climbs to the maximum,
// gets one final look, then the tracker signals the loop to stop.
func TestTickStallEscalationAndBreak(t *testing.T) {
	tracker := NewProgressTracker(zaptest.NewLogger(t))
	rc := stallRunConfig()

	snap := schemas.StateSnapshot{URL: "https://example.com", Title: "Stuck"}

	require.False(t, tracker.Tick(snap, &rc)) // seed

	require.False(t, tracker.Tick(snap, &rc)) // count 1
	assert.Equal(t, 1, rc.DepthLevel)

	require.False(t, tracker.Tick(snap, &rc)) // count 2, depth 2
	assert.Equal(t, 2, rc.DepthLevel)

	require.False(t, tracker.Tick(snap, &rc)) // limit hit, forced to max depth
	assert.Equal(t, 3, rc.DepthLevel)
	assert.Equal(t, 2, tracker.NoProgressCount())

	assert.True(t, tracker.Tick(snap, &rc)) // still stuck at max depth
}

func TestTickFingerprintIgnoresVolatileFields(t *testing.T) {
	tracker := NewProgressTracker(zaptest.NewLogger(t))
	rc := stallRunConfig()

	a := schemas.StateSnapshot{URL: "https://example.com", Title: "Home", DOMPreview: "abcd"}
	// Same structure, different preview bytes of the same length.
	b := schemas.StateSnapshot{URL: "https://example.com", Title: "Home", DOMPreview: "wxyz"}

	tracker.Tick(a, &rc)
	tracker.Tick(b, &rc)
	assert.Equal(t, 1, tracker.NoProgressCount())
}

func TestEscalateContextRespectsCap(t *testing.T) {
	tracker := NewProgressTracker(zaptest.NewLogger(t))
	rc := stallRunConfig()
	rc.ContextChars = 4000
	rc.ContextGrowthPerStep = 3000
	rc.MaxContextChars = 6000

	snap := schemas.StateSnapshot{URL: "https://example.com", Title: "Stuck"}
	tracker.Tick(snap, &rc) // seed
	tracker.Tick(snap, &rc) // count 1
	tracker.Tick(snap, &rc) // count 2, escalates
	assert.Equal(t, 6000, rc.ContextChars)

	tracker.Tick(snap, &rc) // forced max depth, escalates again
	assert.Equal(t, 6000, rc.ContextChars)
}
