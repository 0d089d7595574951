// Package router is the single dispatch point for messages exchanged between
// extension contexts and the coordinator.
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfeidau/engagetrack/internal/protocol"
	"github.com/wolfeidau/engagetrack/internal/telemetry"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrDuplicateHandler   = errors.New("handler already registered")
	ErrHandlerPanic       = errors.New("handler panicked")
)

// Handler processes one message and returns its result. A nil result with a nil
// error is reported as {success: true}.
type Handler func(ctx context.Context, msg protocol.Message) (any, error)

// Middleware wraps a handler.
type Middleware func(Handler) Handler

// Router dispatches messages by type. It imposes no serialization of its own,
// so handlers must be safe for concurrent use.
type Router struct {
	mu         sync.RWMutex
	handlers   map[protocol.MessageType]Handler
	middleware []Middleware
	tracer     trace.Tracer
}

// New creates a router. Middleware is applied in order, the first wrapping
// outermost.
func New(mw ...Middleware) *Router {
	return &Router{
		handlers:   make(map[protocol.MessageType]Handler),
		middleware: mw,
		tracer:     telemetry.Tracer(),
	}
}

// Handle registers h for t.
func (r *Router) Handle(t protocol.MessageType, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[t]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, t)
	}

	for i := len(r.middleware) - 1; i >= 0; i-- {
		h = r.middleware[i](h)
	}
	r.handlers[t] = h

	return nil
}

// Types returns the registered message types.
func (r *Router) Types() []protocol.MessageType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]protocol.MessageType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Dispatch invokes the handler registered for msg.Type. It never returns an
// error: failures, including panics, are converted to a protocol.Result.
func (r *Router) Dispatch(ctx context.Context, msg protocol.Message) any {
	started := time.Now()
	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("type", string(msg.Type)))

	ctx, span := r.tracer.Start(ctx, "router.Dispatch", trace.WithAttributes(
		attribute.String("message.type", string(msg.Type)),
	))
	defer span.End()

	result, err := r.invoke(ctx, msg)

	m.MessagesDispatchedTotal.Add(ctx, 1, attrs)
	m.DispatchDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)

	if err != nil {
		m.MessageErrorsTotal.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return protocol.Failure(err)
	}

	if result == nil {
		return protocol.OK()
	}

	return result
}

func (r *Router) invoke(ctx context.Context, msg protocol.Message) (result any, err error) {
	r.mu.RLock()
	h, ok := r.handlers[msg.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type)
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("type", string(msg.Type)).
				Any("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			result, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
		}
	}()

	return h(ctx, msg)
}
