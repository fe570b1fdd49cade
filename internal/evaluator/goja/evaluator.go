// Package gojaeval evaluates CommonJS/UMD render bundles with the goja
// JavaScript engine and adapts their exported function to crawler.RenderFunc.
package gojaeval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegen/internal/crawler"
)

// Mode selects how an exported JS function is called.
type Mode string

// Supported modes.
const (
	// ModeAuto picks the convention from the function's declared arity.
	ModeAuto Mode = "auto"
	// ModeDirect always calls fn(locals) and reads the return value.
	ModeDirect Mode = "direct"
	// ModeCallback always calls fn(locals, done).
	ModeCallback Mode = "callback"
)

// ParseMode validates a configured calling convention. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeDirect, ModeCallback:
		return m, nil
	default:
		return "", fmt.Errorf("unknown calling convention %q", s)
	}
}

// Config configures an Evaluator.
type Config struct {
	Mode Mode
}

// Evaluator implements crawler.Evaluator. Every call to Evaluate gets a fresh
// runtime on its own event loop, with setTimeout, setInterval and
// setImmediate available to the bundle.
type Evaluator struct {
	mode   Mode
	logger *zap.Logger
}

// New returns an Evaluator.
func New(cfg Config, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	return &Evaluator{mode: cfg.Mode, logger: logger}
}

const moduleWrapperHead = "(function (module, exports, require) {\n"

// Evaluate runs source as a CommonJS module and returns module.exports. An
// export with its own "default" property is unwrapped once. A function is
// returned as a crawler.RenderFunc; anything else in its exported Go form.
func (e *Evaluator) Evaluate(ctx context.Context, source []byte, sourceName string, globals map[string]any) (any, error) {
	m := newModule(e.mode, e.logger.With(zap.String("module", sourceName)))
	leave := m.enter(ctx)
	defer leave()

	var (
		export  goja.Value
		loadErr error
	)
	if err := m.run(func() { export, loadErr = m.load(source, sourceName, globals) }); err != nil {
		return nil, err
	}
	if loadErr != nil {
		return nil, loadErr
	}

	if obj, ok := export.(*goja.Object); ok && slices.Contains(obj.GetOwnPropertyNames(), "default") {
		export = obj.Get("default")
	}
	if fn, ok := m.renderFunc(export); ok {
		return fn, nil
	}
	if export == nil || goja.IsUndefined(export) || goja.IsNull(export) {
		return nil, nil
	}
	return export.Export(), nil
}

// module is one evaluated bundle. A goja runtime is not goroutine safe, so
// every entry into vm holds mu and runs through loop.
type module struct {
	mu     sync.Mutex
	loop   *eventloop.EventLoop
	vm     *goja.Runtime
	mode   Mode
	logger *zap.Logger
}

func newModule(mode Mode, logger *zap.Logger) *module {
	m := &module{
		loop:   eventloop.NewEventLoop(eventloop.EnableConsole(false)),
		mode:   mode,
		logger: logger,
	}
	m.loop.Run(func(vm *goja.Runtime) { m.vm = vm })
	return m
}

// run calls fn on the event loop and returns once every timer, immediate
// and promise job it queued has run.
func (m *module) run(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = jsError(rerr)
				return
			}
			err = fmt.Errorf("event loop panicked: %v", r)
		}
	}()
	m.loop.Run(func(*goja.Runtime) { fn() })
	return nil
}

func (m *module) load(source []byte, sourceName string, globals map[string]any) (goja.Value, error) {
	if err := m.install(globals); err != nil {
		return nil, err
	}

	wrapper, err := m.vm.RunScript(sourceName, moduleWrapperHead+string(source)+"\n})")
	if err != nil {
		return nil, jsError(err)
	}
	factory, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, errors.New("module wrapper is not callable")
	}

	mod := m.vm.NewObject()
	exports := m.vm.NewObject()
	if err := mod.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("set module.exports: %w", err)
	}
	if _, err := factory(goja.Undefined(), mod, exports, m.vm.ToValue(m.require)); err != nil {
		return nil, jsError(err)
	}
	return mod.Get("exports"), nil
}

func (m *module) install(globals map[string]any) error {
	global := m.vm.GlobalObject()
	if err := global.Set("global", global); err != nil {
		return fmt.Errorf("set global: %w", err)
	}
	if err := global.Set("console", m.console()); err != nil {
		return fmt.Errorf("set console: %w", err)
	}
	for name, value := range globals {
		if err := global.Set(name, m.vm.ToValue(value)); err != nil {
			return fmt.Errorf("set global %q: %w", name, err)
		}
	}
	return nil
}

func (m *module) console() *goja.Object {
	console := m.vm.NewObject()
	logAt := func(log func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			log(strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	_ = console.Set("log", logAt(m.logger.Info))
	_ = console.Set("info", logAt(m.logger.Info))
	_ = console.Set("debug", logAt(m.logger.Debug))
	_ = console.Set("warn", logAt(m.logger.Warn))
	_ = console.Set("error", logAt(m.logger.Error))
	return console
}

func (m *module) require(call goja.FunctionCall) goja.Value {
	panic(m.vm.NewGoError(fmt.Errorf("Cannot find module '%s'", call.Argument(0).String())))
}

func (m *module) renderFunc(v goja.Value) (crawler.RenderFunc, bool) {
	if v == nil {
		return crawler.RenderFunc{}, false
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return crawler.RenderFunc{}, false
	}
	mode := m.mode
	if mode == ModeAuto {
		mode = ModeDirect
		if v.ToObject(m.vm).Get("length").ToInteger() >= 2 {
			mode = ModeCallback
		}
	}
	if mode == ModeCallback {
		return crawler.Callback(func(locals crawler.Locals, done func(crawler.Result, error)) {
			m.callWithCallback(fn, locals, done)
		}), true
	}
	return crawler.Direct(func(ctx context.Context, locals crawler.Locals) (crawler.Result, error) {
		return m.call(ctx, fn, locals)
	}), true
}

func (m *module) enter(ctx context.Context) func() {
	m.mu.Lock()
	m.vm.ClearInterrupt()
	stop := context.AfterFunc(ctx, func() {
		m.vm.Interrupt(ctx.Err())
		m.loop.StopNoWait()
	})
	return func() {
		stop()
		m.mu.Unlock()
	}
}

func (m *module) call(ctx context.Context, fn goja.Callable, locals crawler.Locals) (crawler.Result, error) {
	leave := m.enter(ctx)
	defer leave()

	var (
		v       goja.Value
		callErr error
	)
	if err := m.run(func() { v, callErr = fn(goja.Undefined(), m.localsValue(locals)) }); err != nil {
		return crawler.Result{}, err
	}
	if callErr != nil {
		return crawler.Result{}, jsError(callErr)
	}
	v, err := settle(v)
	if err != nil {
		return crawler.Result{}, err
	}
	return m.result(v)
}

func (m *module) callWithCallback(fn goja.Callable, locals crawler.Locals, done func(crawler.Result, error)) {
	leave := m.enter(context.Background())
	defer leave()

	called := false
	cb := func(call goja.FunctionCall) goja.Value {
		if called {
			return goja.Undefined()
		}
		called = true
		if errVal := call.Argument(0); !goja.IsUndefined(errVal) && !goja.IsNull(errVal) {
			done(crawler.Result{}, thrown(errVal))
			return goja.Undefined()
		}
		res, err := m.result(call.Argument(1))
		done(res, err)
		return goja.Undefined()
	}

	var callErr error
	if err := m.run(func() { _, callErr = fn(goja.Undefined(), m.localsValue(locals), m.vm.ToValue(cb)) }); err != nil {
		done(crawler.Result{}, err)
		return
	}
	if callErr != nil {
		done(crawler.Result{}, jsError(callErr))
		return
	}
	if !called {
		done(crawler.Result{}, errors.New("render callback was not invoked"))
	}
}

func (m *module) localsValue(locals crawler.Locals) goja.Value {
	obj := m.vm.NewObject()
	for k, v := range locals {
		if assets, ok := v.(crawler.AssetMap); ok {
			plain := make(map[string]any, len(assets))
			for name, url := range assets {
				plain[name] = url
			}
			v = plain
		}
		_ = obj.Set(k, m.vm.ToValue(v))
	}
	return obj
}

// result converts a render return value: a string renders the requested
// path, an object maps logical paths to content in property order.
func (m *module) result(v goja.Value) (crawler.Result, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return crawler.Result{}, errors.New("render returned no content")
	}
	if s, ok := v.Export().(string); ok {
		return crawler.Page(s), nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return crawler.Page(v.String()), nil
	}
	keys := obj.Keys()
	pages := make([]crawler.Output, 0, len(keys))
	for _, k := range keys {
		pages = append(pages, crawler.Output{Path: k, Content: obj.Get(k).String()})
	}
	return crawler.OrderedPages(pages...), nil
}

// settle unwraps a promise. The event loop has drained by the time the call
// returns, so a promise still pending here never settles.
func settle(v goja.Value) (goja.Value, error) {
	if v == nil {
		return v, nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, thrown(p.Result())
	default:
		return nil, errors.New("render promise did not settle")
	}
}

// thrown converts a JS value used as an error. Error objects keep their
// stack text.
func thrown(v goja.Value) error {
	if obj, ok := v.(*goja.Object); ok {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			return errors.New(stack.String())
		}
	}
	return errors.New(v.String())
}

func jsError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return errors.New(ex.String())
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return fmt.Errorf("evaluation interrupted: %w", cause)
		}
	}
	return err
}
