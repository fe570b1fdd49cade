package crawler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type evaluatorFunc func(ctx context.Context, source []byte, sourceName string, globals map[string]any) (any, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, source []byte, sourceName string, globals map[string]any) (any, error) {
	return f(ctx, source, sourceName, globals)
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.now = c.now.Add(250 * time.Millisecond)
	return c.now
}

type staticID string

func (s staticID) NewID() (string, error) {
	return string(s), nil
}

func testBuild() Build {
	var chunks ChunkMap
	chunks.Add("main", "main.js")
	chunks.AddMulti("vendor", "vendor.js", "vendor.js.map")
	return Build{
		Assets: map[string][]byte{
			"main.js":   []byte("module.exports = render"),
			"vendor.js": []byte("vendor"),
		},
		Chunks:     chunks,
		PublicPath: "/static/",
		Stats:      map[string]any{"hash": "deadbeef"},
	}
}

// exportingEvaluator returns render for every source.
func exportingEvaluator(export any) Evaluator {
	return evaluatorFunc(func(context.Context, []byte, string, map[string]any) (any, error) {
		return export, nil
	})
}

func TestGenerator_MissingEntryIsFatal(t *testing.T) {
	t.Parallel()

	called := false
	eval := evaluatorFunc(func(context.Context, []byte, string, map[string]any) (any, error) {
		called = true
		return nil, nil
	})
	gen := NewGenerator(Options{Entry: "THIS_DOESNT_EXIST"}, eval, nil, nil, nil, nil)
	pass := gen.Run(context.Background(), testBuild())

	require.False(t, called)
	require.True(t, pass.Fatal)
	require.Equal(t, PassFailed, pass.Status())
	require.Zero(t, pass.Outputs.Len())
	require.Equal(t, 1, pass.Errors.Len())
	require.True(t, strings.HasPrefix(pass.Errors.Messages()[0], `Source file not found: "THIS_DOESNT_EXIST"`))

	var cfgErr *ConfigurationError
	require.ErrorAs(t, pass.Errors.Errors()[0], &cfgErr)
}

func TestGenerator_BadExportIsFatal(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(Options{Entry: "main"}, exportingEvaluator("not a function"), nil, nil, nil, nil)
	pass := gen.Run(context.Background(), testBuild())

	require.True(t, pass.Fatal)
	require.Zero(t, pass.Outputs.Len())
	require.Len(t, pass.Errors.Messages(), 1)
	require.Contains(t, pass.Errors.Messages()[0], `Export from "main" must be a function that returns an HTML string.`)

	var shapeErr *ExportShapeError
	require.ErrorAs(t, pass.Errors.Errors()[0], &shapeErr)
	require.True(t, IsFatal(shapeErr))
}

func TestGenerator_EvaluationFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("ReferenceError: window is not defined")
	eval := evaluatorFunc(func(context.Context, []byte, string, map[string]any) (any, error) {
		return nil, boom
	})
	gen := NewGenerator(Options{}, eval, nil, nil, nil, nil)
	pass := gen.Run(context.Background(), testBuild())

	require.True(t, pass.Fatal)
	require.Equal(t, 1, pass.Errors.Len())
	require.ErrorIs(t, pass.Errors.Errors()[0], boom)

	var evalErr *EvaluationError
	require.ErrorAs(t, pass.Errors.Errors()[0], &evalErr)
	require.Equal(t, "main", evalErr.Entry)
}

func TestGenerator_EvaluatorPanicIsContained(t *testing.T) {
	t.Parallel()

	eval := evaluatorFunc(func(context.Context, []byte, string, map[string]any) (any, error) {
		panic("vm crashed")
	})
	gen := NewGenerator(Options{}, eval, nil, nil, nil, nil)
	pass := gen.Run(context.Background(), testBuild())

	require.True(t, pass.Fatal)
	require.Contains(t, pass.Errors.Messages()[0], "vm crashed")
}

func TestGenerator_RendersDefaultEntry(t *testing.T) {
	t.Parallel()

	var gotSource, gotName string
	var gotGlobals map[string]any
	var gotLocals Locals
	render := Direct(func(_ context.Context, locals Locals) (Result, error) {
		gotLocals = locals
		return Page("<h1>" + locals["title"].(string) + "</h1>"), nil
	})
	eval := evaluatorFunc(func(_ context.Context, source []byte, name string, globals map[string]any) (any, error) {
		gotSource, gotName, gotGlobals = string(source), name, globals
		return map[string]any{"default": render}, nil
	})

	opts := Options{
		Locals:  map[string]any{"title": "Home"},
		Globals: map[string]any{"window": map[string]any{}},
	}
	gen := NewGenerator(opts, eval, nil, staticID("pass-1"), &fixedClock{}, nil)
	pass := gen.Run(context.Background(), testBuild())

	require.False(t, pass.Fatal)
	require.Zero(t, pass.Errors.Len())
	require.Equal(t, "module.exports = render", gotSource)
	require.Equal(t, "main.js", gotName)
	require.Contains(t, gotGlobals, "window")

	require.Equal(t, "/", gotLocals[LocalPath])
	require.Equal(t, AssetMap{"main": "/static/main.js", "vendor": "/static/vendor.js"}, gotLocals[LocalAssets])
	require.Equal(t, map[string]any{"hash": "deadbeef"}, gotLocals[LocalStats])

	content, ok := pass.Outputs.Get("index.html")
	require.True(t, ok)
	require.Equal(t, "<h1>Home</h1>", content)
	require.Equal(t, []string{"index.html"}, pass.Written)

	summary := pass.Summary()
	require.Equal(t, "pass-1", summary.ID)
	require.Equal(t, "main", summary.Entry)
	require.Equal(t, PassSucceeded, summary.Status)
	require.Equal(t, 1, summary.Outputs)
	require.Equal(t, int64(250), summary.DurationMs)
}

func TestGenerator_PartialPass(t *testing.T) {
	t.Parallel()

	render := Direct(func(_ context.Context, locals Locals) (Result, error) {
		if locals[LocalPath] == "/missing" {
			return Result{}, errors.New("not found")
		}
		return Page("ok"), nil
	})
	gen := NewGenerator(Options{Entry: "main.js", Paths: []string{"/", "/missing"}}, exportingEvaluator(render), nil, nil, nil, nil)
	pass := gen.Run(context.Background(), testBuild())

	require.False(t, pass.Fatal)
	require.Equal(t, PassPartial, pass.Status())
	require.Equal(t, []string{"index.html"}, pass.Written)
	require.Equal(t, 1, pass.Errors.Len())
}

func TestGenerator_WrittenExcludesHostOutputs(t *testing.T) {
	t.Parallel()

	build := testBuild()
	build.Outputs = NewRegistry()
	build.Outputs.Put("robots.txt", "User-agent: *")

	render := Direct(func(context.Context, Locals) (Result, error) { return Page("page"), nil })
	gen := NewGenerator(Options{Paths: []string{"/a", "/b"}}, exportingEvaluator(render), nil, nil, nil, nil)
	pass := gen.Run(context.Background(), build)

	require.Equal(t, 3, pass.Outputs.Len())
	require.ElementsMatch(t, []string{"a/index.html", "b/index.html"}, pass.Written)
}
