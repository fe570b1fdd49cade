package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegen/internal/crawler"
)

func TestEvaluator(t *testing.T) {
	t.Parallel()

	eval := New()
	eval.Register("main.js", func(globals map[string]any) (any, error) {
		prefix := globals["prefix"].(string)
		return crawler.Direct(func(_ context.Context, locals crawler.Locals) (crawler.Result, error) {
			return crawler.Page(prefix + locals[crawler.LocalPath].(string)), nil
		}), nil
	})
	eval.Register("blog", func(map[string]any) (any, error) { return "nope", nil })
	require.Equal(t, []string{"blog", "main.js"}, eval.Names())

	export, err := eval.Evaluate(context.Background(), nil, "dist/main.js", map[string]any{"prefix": "page:"})
	require.NoError(t, err)
	fn, ok := crawler.ExportRenderFunc(export)
	require.True(t, ok)
	res, err := crawler.Invoke(context.Background(), fn, crawler.Locals{crawler.LocalPath: "/x"})
	require.NoError(t, err)
	require.Equal(t, "page:/x", res.Outputs("/x")[0].Content)

	_, err = eval.Evaluate(context.Background(), nil, "missing.js", nil)
	require.ErrorContains(t, err, `no module registered for "missing.js"`)
}

func TestEvaluator_DrivesGenerator(t *testing.T) {
	t.Parallel()

	eval := New()
	eval.Register("site.js", func(map[string]any) (any, error) {
		return crawler.Callback(func(locals crawler.Locals, done func(crawler.Result, error)) {
			if locals[crawler.LocalPath] == "/" {
				done(crawler.Page(`<a href="/docs">docs</a>`), nil)
				return
			}
			done(crawler.Page("docs"), nil)
		}), nil
	})

	var chunks crawler.ChunkMap
	chunks.Add("site", "site.js")
	gen := crawler.NewGenerator(crawler.Options{Crawl: true}, eval, nil, nil, nil, nil)
	pass := gen.Run(context.Background(), crawler.Build{
		Assets: map[string][]byte{"site.js": nil},
		Chunks: chunks,
	})

	require.Equal(t, crawler.PassSucceeded, pass.Status())
	require.ElementsMatch(t, []string{"index.html", "docs/index.html"}, pass.Written)
}
