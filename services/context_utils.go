package services

import "context"

// persistentContext detaches background work from a caller's cancellation.
// A scheduled import run proceeds to a terminal state; it cannot be canceled
// by the request that created it.
func persistentContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
