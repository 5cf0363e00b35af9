package pool

import "context"

// DefaultWorker is the key used for requests that carry no worker key.
const DefaultWorker = ""

type workerKey struct{}

// WithWorker returns a context that routes requests to the connection owned by id.
func WithWorker(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workerKey{}, id)
}

// WorkerFromContext returns the worker key carried by ctx, or DefaultWorker.
func WorkerFromContext(ctx context.Context) string {
	if ctx == nil {
		return DefaultWorker
	}
	if id, ok := ctx.Value(workerKey{}).(string); ok {
		return id
	}
	return DefaultWorker
}
