// internal/browser/context_utils.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// errOperationTimeout is the cancellation cause recorded when a primitive's
// own budget runs out. It wraps context.DeadlineExceeded.
var errOperationTimeout = fmt.Errorf("browser operation timed out: %w", context.DeadlineExceeded)

// TabScope returns a context derived from tab, so chromedp resolves the tab's
// target from it, that also ends when op ends or after timeout. A timeout of
// zero adds no bound of its own. context.Cause on the result tells which of
// the three fired. The returned cancel must be called.
func TabScope(tab, op context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	scoped, cancel := context.WithCancelCause(tab)
	stop := context.AfterFunc(op, func() { cancel(context.Cause(op)) })

	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() { cancel(errOperationTimeout) })
	}

	return scoped, func() {
		stop()
		if timer != nil {
			timer.Stop()
		}
		cancel(nil)
	}
}

// timedOut reports whether ctx ended because its TabScope budget elapsed.
func timedOut(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errOperationTimeout)
}
