package crawler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitegen/internal/metrics"
)

const tracerName = "github.com/JakeFAU/sitegen/internal/crawler"

// DefaultPaths are rendered when no paths are configured.
var DefaultPaths = []string{"/"}

// Generator runs compilation passes: it resolves and evaluates the entry
// bundle, then drives an Engine over the configured paths.
type Generator struct {
	opts      Options
	evaluator Evaluator
	writer    OutputWriter
	ids       IDGenerator
	clock     Clock
	logger    *zap.Logger
}

// NewGenerator constructs a Generator. writer, ids and clock are optional.
func NewGenerator(
	opts Options,
	evaluator Evaluator,
	writer OutputWriter,
	ids IDGenerator,
	clock Clock,
	logger *zap.Logger,
) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = wallClock{}
	}
	if len(opts.Paths) == 0 {
		opts.Paths = DefaultPaths
	}
	return &Generator{
		opts:      opts,
		evaluator: evaluator,
		writer:    writer,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// Run executes one pass over build. It never fails: fatal problems leave
// the pass without outputs and a single entry in its error log, path-scoped
// problems are logged next to the outputs that did render.
func (g *Generator) Run(ctx context.Context, build Build) *Pass {
	outputs := build.Outputs
	if outputs == nil {
		outputs = NewRegistry()
	}
	entry := g.opts.Entry
	if entry == "" {
		entry = build.Chunks.DefaultEntry()
	}
	pass := &Pass{
		ID:      g.newID(),
		Entry:   entry,
		Outputs: outputs,
		Errors:  &ErrorLog{},
		Started: g.clock.Now(),
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sitegen.pass")
	span.SetAttributes(attribute.String("sitegen.pass_id", pass.ID), attribute.String("sitegen.entry", entry))
	defer span.End()

	logger := g.logger.With(zap.String("pass_id", pass.ID), zap.String("entry", entry))
	logger.Info("pass started", zap.Strings("paths", g.opts.Paths), zap.Bool("crawl", g.opts.Crawl))
	defer func() {
		pass.Finished = g.clock.Now()
		duration := pass.Finished.Sub(pass.Started)
		metrics.ObservePass(string(pass.Status()), duration)
		span.SetAttributes(
			attribute.String("sitegen.status", string(pass.Status())),
			attribute.Int("sitegen.outputs", len(pass.Written)),
			attribute.Int("sitegen.errors", pass.Errors.Len()),
		)
		if pass.Status() != PassSucceeded {
			span.SetStatus(codes.Error, string(pass.Status()))
		}
		logger.Info("pass finished",
			zap.String("status", string(pass.Status())),
			zap.Int("outputs", len(pass.Written)),
			zap.Int("errors", pass.Errors.Len()),
			zap.Duration("duration", duration),
		)
	}()

	render, err := g.load(ctx, build, entry)
	if err != nil {
		logger.Error("pass aborted", zap.Error(err))
		pass.Fatal = true
		pass.Errors.Append(err)
		return pass
	}

	assets, skipped := BuildAssetMap(build.Chunks, build.PublicPath)
	if len(skipped) > 0 {
		logger.Warn("chunks without a bundle artifact left out of assets", zap.Strings("chunks", skipped))
	}

	before := outputs.Len()
	engine := NewEngine(render, g.opts, assets, build.Stats, outputs, pass.Errors, g.writer, logger)
	engine.RenderPaths(ctx, g.opts.Paths)
	pass.Written = outputs.Names()[before:]
	return pass
}

func (g *Generator) load(ctx context.Context, build Build, entry string) (render RenderFunc, err error) {
	file, src, ok := ResolveFile(g.opts.Entry, build.Assets, build.Chunks)
	if !ok {
		return RenderFunc{}, &ConfigurationError{Entry: entry}
	}
	if g.evaluator == nil {
		return RenderFunc{}, &EvaluationError{Entry: entry, Err: fmt.Errorf("no evaluator configured")}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &EvaluationError{Entry: entry, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	export, err := g.evaluator.Evaluate(ctx, src, file, g.opts.Globals)
	if err != nil {
		return RenderFunc{}, &EvaluationError{Entry: entry, Err: err}
	}
	render, ok = ExportRenderFunc(export)
	if !ok {
		return RenderFunc{}, &ExportShapeError{Entry: entry}
	}
	return render, nil
}

func (g *Generator) newID() string {
	if g.ids == nil {
		return ""
	}
	id, err := g.ids.NewID()
	if err != nil {
		g.logger.Warn("pass id generation failed", zap.Error(err))
		return ""
	}
	return id
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now().UTC()
}
