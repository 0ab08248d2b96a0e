package browser

import (
	"context"
)

// CombineContext creates a context derived from ctx1 that is canceled when
// either ctx1 or ctx2 is canceled. It inherits values from ctx1, which is how
// chromedp actions keep the tab target while honouring the caller's deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)
	if deadline, ok := ctx2.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combinedCtx, cancelDeadline = context.WithDeadline(combinedCtx, deadline)
		inner := cancel
		cancel = func() {
			cancelDeadline()
			inner()
		}
	}

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
