// internal/agent/hints.go
package agent

import (
	"fmt"

	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// stallHints are the remediation hints attached when a run breaks on the
// stall policy.
func stallHints(rc config.RunConfig) []string {
	return []string{
		fmt.Sprintf("page stopped changing; retry with a higher stall limit (current %d)", rc.StallLimit),
		fmt.Sprintf("widen the DOM preview cap (current %d chars) to expose more of the page", rc.DOMPreviewMaxChars),
		"the site may be blocking automation; consider a stealth profile or manual verification",
	}
}

// retryExhaustedHint describes a permanently skipped tool, naming the
// suggested alternative when one exists.
func retryExhaustedHint(tool, errMsg, alternative string) string {
	if alternative != "" {
		return fmt.Sprintf("tool %s disabled after repeated failure %q; try %s instead", tool, errMsg, alternative)
	}
	return fmt.Sprintf("tool %s disabled after repeated failure %q", tool, errMsg)
}

// maxStepsHint suggests the obvious knob when the step budget runs out.
func maxStepsHint(rc config.RunConfig) string {
	return fmt.Sprintf("step budget of %d exhausted before completion; retry with a higher max_steps", rc.MaxSteps)
}
