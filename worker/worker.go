// Package worker runs Lua source in its own state on its own goroutine.
// A Worker is the runtime handle plugins create through require("worker").
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/tuff-dev/tuff-sandbox/luaval"
)

// DataGlobal is the global holding the data passed to a worker.
const DataGlobal = "worker_data"

// ErrTerminated is the exit error of a worker stopped by Terminate.
var ErrTerminated = errors.New("worker terminated")

// Options configures Spawn.
type Options struct {
	// Source is the Lua chunk the worker runs.
	Source string
	// Data is exposed to the worker as worker_data. Plain values only, see
	// package luaval.
	Data any
	// NewState builds the worker's state. Defaults to lua.NewState.
	NewState func() *lua.LState
	// Name is the chunk name used in error messages.
	Name string
}

// Worker is a running or exited worker.
type Worker struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	exited    bool
	callbacks []func()
	exitCode  int
	err       error
}

// Spawn compiles opts.Source and starts it. Compile errors are returned
// synchronously and no worker is started.
func Spawn(ctx context.Context, opts Options) (*Worker, error) {
	newState := opts.NewState
	if newState == nil {
		newState = func() *lua.LState { return lua.NewState() }
	}
	name := opts.Name
	if name == "" {
		name = "worker"
	}

	L := newState()
	fn, err := L.Load(strings.NewReader(opts.Source), name)
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("compile worker: %w", err)
	}
	data, err := luaval.FromGo(L, opts.Data)
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("worker data: %w", err)
	}
	L.SetGlobal(DataGlobal, data)

	wctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	L.SetContext(wctx)

	go w.run(wctx, L, fn)
	return w, nil
}

func (w *Worker) run(ctx context.Context, L *lua.LState, fn *lua.LFunction) {
	code, err := execute(L, fn)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", ErrTerminated, context.Cause(ctx))
	}
	L.Close()
	w.cancel()
	w.finish(code, err)
}

// execute runs fn. A number returned by the chunk is the exit code;
// errors exit with 1.
func execute(L *lua.LState, fn *lua.LFunction) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			code, err = 1, fmt.Errorf("worker panic: %v", r)
		}
	}()

	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return 1, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	if n, ok := ret.(lua.LNumber); ok {
		return int(n), nil
	}
	return 0, nil
}

// finish records the exit, runs exit callbacks, then closes Done. Anything
// waiting on Done observes the callbacks' effects.
func (w *Worker) finish(code int, err error) {
	w.mu.Lock()
	w.exited = true
	w.exitCode = code
	w.err = err
	callbacks := w.callbacks
	w.callbacks = nil
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	close(w.done)
}

// ID returns the worker's unique id.
func (w *Worker) ID() string { return w.id }

// Done is closed once the worker has exited and its exit callbacks ran.
func (w *Worker) Done() <-chan struct{} { return w.done }

// OnExit runs fn once when the worker exits, or immediately if it already has.
func (w *Worker) OnExit(fn func()) {
	w.mu.Lock()
	if w.exited {
		w.mu.Unlock()
		fn()
		return
	}
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Terminate asks the worker to stop. The worker exits at its next
// instruction boundary; Terminate does not wait.
func (w *Worker) Terminate() {
	w.cancel()
}

// Wait blocks until the worker exits or ctx ends.
func (w *Worker) Wait(ctx context.Context) (int, error) {
	select {
	case <-w.done:
		return w.ExitCode(), w.Err()
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Running reports whether the worker has not exited yet.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.exited
}

// ExitCode returns the exit code, or -1 while running.
func (w *Worker) ExitCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.exited {
		return -1
	}
	return w.exitCode
}

// Err returns the error the worker exited with, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
