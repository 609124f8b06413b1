// Package lifecycle holds process-wide shutdown state. While draining,
// the gateway refuses new call placements and media-stream upgrades but
// keeps serving status callbacks so in-flight calls can still complete.
package lifecycle

import "sync/atomic"

type Lifecycle struct {
	draining atomic.Bool
}

// SetDraining flips the drain flag. Nil receivers are tolerated so
// handlers can run without a wired lifecycle in tests.
func (l *Lifecycle) SetDraining(draining bool) {
	if l != nil {
		l.draining.Store(draining)
	}
}

func (l *Lifecycle) IsDraining() bool {
	return l != nil && l.draining.Load()
}
