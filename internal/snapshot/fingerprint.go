// internal/snapshot/fingerprint.go
package snapshot

import "github.com/xkilldash9x/webpilot-cli/api/schemas"

// Fingerprint is the cheap structural identity of a snapshot used for stall
// detection. It is a typed struct compared with ==, not a formatted string,
// so formatting changes cannot produce accidental collisions.
type Fingerprint struct {
	URL              string
	Title            string
	InteractiveCount int
	DOMPreviewLen    int
}

// FingerprintOf computes the structural fingerprint of a snapshot.
func FingerprintOf(snap schemas.StateSnapshot) Fingerprint {
	return Fingerprint{
		URL:              snap.URL,
		Title:            snap.Title,
		InteractiveCount: len(snap.Interactive),
		DOMPreviewLen:    len(snap.DOMPreview),
	}
}
