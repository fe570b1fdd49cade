package crawler

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/sitegen/internal/metrics"
)

const defaultContentType = "text/html; charset=utf-8"

// Engine renders batches of logical paths and, when crawling, recurses into
// the paths linked from every newly written page. All branches share one
// Registry and one ErrorLog; a failing branch never stops its siblings.
//
// Locals for each call start with path, assets and webpackStats; the
// configured user locals are assigned afterwards and win on a name clash.
type Engine struct {
	render  RenderFunc
	opts    Options
	assets  AssetMap
	stats   any
	outputs *Registry
	errs    *ErrorLog
	writer  OutputWriter
	sem     *semaphore.Weighted
	logger  *zap.Logger

	mu      sync.Mutex
	claimed map[string]struct{}
}

// NewEngine wires an Engine. writer may be nil when outputs only live in the
// registry.
func NewEngine(
	render RenderFunc,
	opts Options,
	assets AssetMap,
	stats any,
	outputs *Registry,
	errs *ErrorLog,
	writer OutputWriter,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if outputs == nil {
		outputs = NewRegistry()
	}
	if errs == nil {
		errs = &ErrorLog{}
	}
	if opts.ContentType == "" {
		opts.ContentType = defaultContentType
	}
	e := &Engine{
		render:  render,
		opts:    opts,
		assets:  assets,
		stats:   stats,
		outputs: outputs,
		errs:    errs,
		writer:  writer,
		logger:  logger,
		claimed: make(map[string]struct{}),
	}
	if opts.Concurrency > 0 {
		e.sem = semaphore.NewWeighted(int64(opts.Concurrency))
	}
	return e
}

// Outputs returns the registry the engine writes into.
func (e *Engine) Outputs() *Registry {
	return e.outputs
}

// Errors returns the engine's error log.
func (e *Engine) Errors() *ErrorLog {
	return e.errs
}

// RenderPaths renders every path concurrently and returns once every branch,
// including nested crawl branches, has settled.
func (e *Engine) RenderPaths(ctx context.Context, paths []string) {
	for _, p := range paths {
		e.claim(p)
	}
	e.renderBatch(ctx, paths)
}

// crawl renders the discovered paths whose slot is neither written nor
// already scheduled by another branch.
func (e *Engine) crawl(ctx context.Context, discovered []string) {
	fresh := make([]string, 0, len(discovered))
	for _, p := range discovered {
		if e.claim(p) {
			fresh = append(fresh, p)
		}
	}
	e.renderBatch(ctx, fresh)
}

func (e *Engine) claim(logicalPath string) bool {
	slot := MapPath(logicalPath, e.opts.PreferFoldersOutput)
	if e.outputs.Has(slot) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.claimed[slot]; ok {
		return false
	}
	e.claimed[slot] = struct{}{}
	return true
}

func (e *Engine) renderBatch(ctx context.Context, paths []string) {
	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.renderPath(ctx, p)
		}()
	}
	wg.Wait()
}

func (e *Engine) renderPath(ctx context.Context, logicalPath string) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sitegen.render")
	span.SetAttributes(attribute.String("sitegen.path", logicalPath))
	defer span.End()

	result, err := e.invoke(ctx, logicalPath)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveRender(metrics.StatusError)
		e.logger.Warn("render failed", zap.String("path", logicalPath), zap.Error(err))
		e.errs.Append(&RenderError{Path: logicalPath, Err: err})
		return
	}
	metrics.ObserveRender(metrics.StatusOK)

	var children sync.WaitGroup
	for _, out := range result.Outputs(logicalPath) {
		links, ok := e.write(ctx, out)
		if !ok || len(links) == 0 {
			continue
		}
		children.Add(1)
		go func() {
			defer children.Done()
			e.crawl(ctx, links)
		}()
	}
	children.Wait()
}

func (e *Engine) invoke(ctx context.Context, logicalPath string) (Result, error) {
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return Result{}, err
		}
		defer e.sem.Release(1)
	}
	return Invoke(ctx, e.render, e.locals(logicalPath))
}

func (e *Engine) locals(logicalPath string) Locals {
	locals := Locals{
		LocalPath:   logicalPath,
		LocalAssets: e.assets,
		LocalStats:  e.stats,
	}
	for k, v := range e.opts.Locals {
		locals[k] = v
	}
	return locals
}

// write claims the slot for out and returns the crawl candidates found in
// it. ok is false when the slot already existed or could not be written.
func (e *Engine) write(ctx context.Context, out Output) (links []string, ok bool) {
	slot := MapPath(out.Path, e.opts.PreferFoldersOutput)
	if !e.outputs.Put(slot, out.Content) {
		metrics.ObserveOutput(metrics.OutputSkipped)
		e.logger.Debug("slot already written", zap.String("path", out.Path), zap.String("slot", slot))
		return nil, false
	}

	if e.writer != nil {
		uri, err := e.writer.PutObject(ctx, slot, e.opts.ContentType, strings.NewReader(out.Content))
		if err != nil {
			metrics.ObserveOutput(metrics.OutputFailed)
			e.logger.Warn("write failed", zap.String("slot", slot), zap.Error(err))
			e.errs.Append(&WriteError{Slot: slot, Err: err})
			return nil, false
		}
		e.outputs.setURI(slot, uri)
	}
	metrics.ObserveOutput(metrics.OutputWritten)

	if !e.opts.Crawl {
		return nil, true
	}
	links, err := ExtractLinks(out.Content, out.Path)
	if err != nil {
		e.logger.Warn("link extraction failed", zap.String("path", out.Path), zap.Error(err))
		e.errs.Append(&RenderError{Path: out.Path, Err: err})
		return nil, false
	}
	e.logger.Debug("discovered links", zap.String("path", out.Path), zap.Int("links", len(links)))
	return links, true
}
