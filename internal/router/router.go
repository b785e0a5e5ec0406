// internal/router/router.go
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/user/botstream/internal/event"
)

// ErrHandlerPanic wraps a panic recovered from a handler.
var ErrHandlerPanic = errors.New("handler panic")

// Handler processes one validated event.
type Handler func(ctx context.Context, ev event.Event) error

// Router dispatches validated events to the handler registered for their
// discriminant. The mapping is fixed at construction; anything without a
// handler, including *event.Unknown, goes to the fallback.
type Router struct {
	handlers map[event.Kind]Handler
	fallback Handler
}

// Route binds a discriminant to a handler.
type Route struct {
	Kind    event.Kind
	Handler Handler
}

// New creates a Router from a fixed set of routes. A nil fallback drops
// unrouted events silently.
func New(fallback Handler, routes ...Route) *Router {
	r := &Router{
		handlers: make(map[event.Kind]Handler, len(routes)),
		fallback: fallback,
	}
	for _, route := range routes {
		r.handlers[route.Kind] = route.Handler
	}
	return r
}

// Dispatch runs exactly one handler for ev. A panicking handler is recovered
// and reported as ErrHandlerPanic so the caller can keep consuming events.
func (r *Router) Dispatch(ctx context.Context, ev event.Event) (err error) {
	h := r.lookup(ev)
	if h == nil {
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, ev.Kind(), p)
		}
	}()
	return h(ctx, ev)
}

func (r *Router) lookup(ev event.Event) Handler {
	if _, unknown := ev.(*event.Unknown); unknown {
		return r.fallback
	}
	if h, ok := r.handlers[ev.Kind()]; ok {
		return h
	}
	return r.fallback
}
