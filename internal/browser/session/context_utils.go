// internal/browser/session/context_utils.go
package session

import (
	"context"
)

// CombineContext returns a context carrying the values of primary (the chromedp
// target lives there) that is cancelled when either primary or operation is done.
func CombineContext(primary, operation context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(operation, func() {
		cancel(context.Cause(operation))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach returns a context with the values of ctx but none of its cancellation or
// deadline. Used for teardown that must still reach the browser after the step context ended.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
