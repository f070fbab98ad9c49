package host

import (
	"log/slog"

	"github.com/tetratelabs/wazero"
)

// Option defines a functional option for configuring the Executor.
type Option func(*Executor)

// WithInvoker routes the guest's `invoke` calls to inv.
func WithInvoker(inv Invoker) Option {
	return func(e *Executor) {
		e.invoker = inv
	}
}

// WithLogger sets the logger used for guest log messages and host errors.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCompilationCache configures the executor with a compilation cache.
func WithCompilationCache(cache wazero.CompilationCache) Option {
	return func(e *Executor) {
		e.cache = cache
	}
}
