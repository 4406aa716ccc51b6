package multiagent

import "context"

// MaxDelegationDepth bounds nested delegation. The guard rejects any call
// that would push depth above this limit.
const MaxDelegationDepth = 2

type contextKey int

const (
	depthKey contextKey = iota
	deliveryKey
)

// DeliveryFunc receives background-task completion notices for the
// originating transport.
type DeliveryFunc func(message string)

// WithDepth returns a context carrying the given delegation depth. Depth is
// context-propagated so concurrent top-level requests never share a counter.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey, depth)
}

// DepthFromContext returns the delegation depth, zero at top level.
func DepthFromContext(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey).(int); ok {
		return d
	}
	return 0
}

// WithDelivery returns a context carrying the caller's delivery callback.
func WithDelivery(ctx context.Context, deliver DeliveryFunc) context.Context {
	return context.WithValue(ctx, deliveryKey, deliver)
}

// DeliveryFromContext returns the delivery callback, nil when absent.
func DeliveryFromContext(ctx context.Context) DeliveryFunc {
	if f, ok := ctx.Value(deliveryKey).(DeliveryFunc); ok {
		return f
	}
	return nil
}
