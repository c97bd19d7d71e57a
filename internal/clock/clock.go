// Package clock provides the cancellable-sleep primitive spec.md §9 asks
// for: a timed wait that returns a distinguished "cancelled" outcome rather
// than an error, generalized from the teacher's single inline
// context-vs-signal select into a reusable helper.
package clock

import (
	"context"
	"time"
)

// Sleep waits for d or until ctx is cancelled, whichever comes first. It
// reports true if the wait was cut short by cancellation.
func Sleep(ctx context.Context, d time.Duration) (cancelled bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
