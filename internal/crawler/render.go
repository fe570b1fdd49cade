package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Convention names the calling convention of a render function.
type Convention int

// Supported calling conventions.
const (
	// ConventionDirect functions return their result (possibly after blocking).
	ConventionDirect Convention = iota
	// ConventionCallback functions report their result through a done callback.
	ConventionCallback
)

func (c Convention) String() string {
	if c == ConventionCallback {
		return "callback"
	}
	return "direct"
}

// DirectFunc renders by returning its result. It may block until a deferred
// value settles.
type DirectFunc func(ctx context.Context, locals Locals) (Result, error)

// CallbackFunc renders by calling done exactly once, possibly from another
// goroutine.
type CallbackFunc func(locals Locals, done func(Result, error))

// RenderFunc is the render entry point of a bundle. The calling convention is
// fixed when the value is built, never per call.
type RenderFunc struct {
	direct   DirectFunc
	callback CallbackFunc
}

// Direct wraps a direct-return render function.
func Direct(fn DirectFunc) RenderFunc {
	return RenderFunc{direct: fn}
}

// Callback wraps a completion-callback render function.
func Callback(fn CallbackFunc) RenderFunc {
	return RenderFunc{callback: fn}
}

// Convention reports how the function is invoked.
func (f RenderFunc) Convention() Convention {
	if f.callback != nil {
		return ConventionCallback
	}
	return ConventionDirect
}

// Valid reports whether the value wraps a function.
func (f RenderFunc) Valid() bool {
	return f.direct != nil || f.callback != nil
}

// Invoke runs fn for locals and waits for its result. Returned errors,
// callback errors and panics all surface as the returned error. There is no
// timeout: a callback function that never calls done blocks its caller.
func Invoke(ctx context.Context, fn RenderFunc, locals Locals) (res Result, err error) {
	if !fn.Valid() {
		return Result{}, errors.New("render function is nil")
	}
	if fn.callback == nil {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("render panicked: %v", r)
			}
		}()
		return fn.direct(ctx, locals)
	}
	return invokeCallback(fn.callback, locals)
}

type completion struct {
	result Result
	err    error
}

func invokeCallback(fn CallbackFunc, locals Locals) (Result, error) {
	ch := make(chan completion, 1)
	var once sync.Once
	done := func(r Result, err error) {
		once.Do(func() {
			ch <- completion{result: r, err: err}
		})
	}

	var panicked any
	func() {
		defer func() {
			panicked = recover()
		}()
		fn(locals, done)
	}()
	if panicked != nil {
		done(Result{}, fmt.Errorf("render panicked: %v", panicked))
	}

	c := <-ch
	return c.result, c.err
}

// ExportRenderFunc extracts a render function from an evaluated module
// export. A map export carrying a "default" key is unwrapped once.
func ExportRenderFunc(export any) (RenderFunc, bool) {
	if m, ok := export.(map[string]any); ok {
		if def, ok := m["default"]; ok {
			export = def
		}
	}
	switch fn := export.(type) {
	case RenderFunc:
		return fn, fn.Valid()
	case DirectFunc:
		return Direct(fn), fn != nil
	case func(context.Context, Locals) (Result, error):
		return Direct(fn), fn != nil
	case CallbackFunc:
		return Callback(fn), fn != nil
	case func(Locals, func(Result, error)):
		return Callback(fn), fn != nil
	default:
		return RenderFunc{}, false
	}
}
