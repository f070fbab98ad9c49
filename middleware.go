package sandbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/tuff-dev/tuff-sandbox/registry"
)

// Call is one capability invocation on behalf of a plugin.
type Call struct {
	Plugin     string
	Capability string
	Payload    any
	// Meta is forwarded to risk classification as string metadata.
	Meta map[string]string
}

// Handler serves a Call.
type Handler func(ctx context.Context, call *Call) (any, error)

// Middleware is a function that wraps a Handler to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
//
// Example usage:
//
//	timing := func(next Handler) Handler {
//	    return func(ctx context.Context, call *Call) (any, error) {
//	        start := time.Now()
//	        defer func() { log.Printf("%s took %s", call.Capability, time.Since(start)) }()
//	        return next(ctx, call)
//	    }
//	}
type Middleware func(next Handler) Handler

// Chain wraps h with mws, the first middleware outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// PanicRecoveryMiddleware returns a middleware that converts provider
// panics into a PanicError instead of crashing the host.
func PanicRecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp = nil
					err = &PanicError{Capability: call.Capability, Value: r}
				}
			}()
			return next(ctx, call)
		}
	}
}

// LoggingMiddleware returns a middleware that logs invocations.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (any, error) {
			start := time.Now()
			resp, err := next(ctx, call)
			if err != nil {
				logger.WarnContext(ctx, "capability invocation failed",
					"plugin", call.Plugin,
					"capability", call.Capability,
					"duration", time.Since(start),
					"error", err)
				return resp, err
			}
			logger.DebugContext(ctx, "capability invoked",
				"plugin", call.Plugin,
				"capability", call.Capability,
				"duration", time.Since(start))
			return resp, nil
		}
	}
}

// CapabilityMiddleware returns a middleware that rejects calls the checker
// refuses.
func CapabilityMiddleware(checker *CapabilityChecker) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (any, error) {
			if err := checker.Check(ctx, call.Plugin, call.Capability, call.Meta); err != nil {
				return nil, err
			}
			return next(ctx, call)
		}
	}
}

// SchemaMiddleware returns a middleware that validates payloads against
// the capability's parameter schema.
func SchemaMiddleware(schemas registry.SchemaRegistry) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (any, error) {
			if err := schemas.Validate(call.Capability, call.Payload); err != nil {
				return nil, err
			}
			return next(ctx, call)
		}
	}
}
