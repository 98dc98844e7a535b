package chat

import "context"

// dispatcher bounds the number of in-flight external sub-calls (model and
// classifier invocations) so a burst of slow requests cannot pile an
// unbounded number of outbound calls onto the collaborators.
type dispatcher struct {
	slots chan struct{}
}

func newDispatcher(size int) *dispatcher {
	if size < 1 {
		size = 1
	}
	return &dispatcher{slots: make(chan struct{}, size)}
}

// Do runs fn once a slot is free, or gives up when the request context ends
// while waiting.
func (d *dispatcher) Do(ctx context.Context, fn func() error) error {
	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.slots }()
	return fn()
}
