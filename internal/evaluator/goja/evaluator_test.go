package gojaeval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegen/internal/crawler"
)

func evaluate(t *testing.T, mode Mode, src string, globals map[string]any) any {
	t.Helper()
	export, err := New(Config{Mode: mode}, nil).Evaluate(context.Background(), []byte(src), "main.js", globals)
	require.NoError(t, err)
	return export
}

func renderFunc(t *testing.T, mode Mode, src string) crawler.RenderFunc {
	t.Helper()
	fn, ok := crawler.ExportRenderFunc(evaluate(t, mode, src, nil))
	require.True(t, ok)
	return fn
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Mode{"": ModeAuto, "auto": ModeAuto, "Direct": ModeDirect, " callback ": ModeCallback} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseMode("sync")
	require.Error(t, err)
}

func TestEvaluate_DirectString(t *testing.T) {
	t.Parallel()

	fn := renderFunc(t, ModeAuto, `module.exports = function (locals) {
		return "<h1>" + locals.path + " " + locals.assets.main + "</h1>";
	};`)
	require.Equal(t, crawler.ConventionDirect, fn.Convention())

	res, err := crawler.Invoke(context.Background(), fn, crawler.Locals{
		crawler.LocalPath:   "/about",
		crawler.LocalAssets: crawler.AssetMap{"main": "/main.js"},
	})
	require.NoError(t, err)
	require.Equal(t, []crawler.Output{{Path: "/about", Content: "<h1>/about /main.js</h1>"}}, res.Outputs("/about"))
}

func TestEvaluate_UMDDefaultExport(t *testing.T) {
	t.Parallel()

	src := `(function (root, factory) {
		if (typeof exports === 'object' && typeof module === 'object') module.exports = factory();
		else root.site = factory();
	})(this, function () {
		return { __esModule: true, default: function (locals) { return "umd " + locals.path; } };
	});`
	fn := renderFunc(t, ModeAuto, src)

	res, err := crawler.Invoke(context.Background(), fn, crawler.Locals{crawler.LocalPath: "/"})
	require.NoError(t, err)
	require.Equal(t, "umd /", res.Outputs("/")[0].Content)
}

func TestEvaluate_MultiPageObjectKeepsOrder(t *testing.T) {
	t.Parallel()

	fn := renderFunc(t, ModeAuto, `module.exports = function () {
		return { "/z": "Z", "/a": "A" };
	};`)
	res, err := crawler.Invoke(context.Background(), fn, crawler.Locals{})
	require.NoError(t, err)
	require.False(t, res.IsSingle())
	require.Equal(t, []crawler.Output{{Path: "/z", Content: "Z"}, {Path: "/a", Content: "A"}}, res.Outputs("/"))
}

func TestEvaluate_Promises(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		want    string
		wantErr string
	}{
		{"async function", `module.exports = async function (l) { return "async " + l.path; };`, "async /p", ""},
		{"resolved promise", `module.exports = function (l) { return Promise.resolve("ok"); };`, "ok", ""},
		{"rejected promise", `module.exports = function () { return Promise.reject(new Error("nope")); };`, "", "nope"},
		{"pending promise", `module.exports = function () { return new Promise(function () {}); };`, "", "did not settle"},
		{"thrown error", `module.exports = function () { throw new TypeError("bad locals"); };`, "", "TypeError: bad locals"},
		{"undefined result", `module.exports = function () {};`, "", "no content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fn := renderFunc(t, ModeAuto, tt.src)
			res, err := crawler.Invoke(context.Background(), fn, crawler.Locals{crawler.LocalPath: "/p"})
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, res.Outputs("/p")[0].Content)
		})
	}
}

func TestEvaluate_CallbackConvention(t *testing.T) {
	t.Parallel()

	fn := renderFunc(t, ModeAuto, `module.exports = function (locals, done) {
		if (locals.path === "/bad") { done(new Error("broken page")); return; }
		Promise.resolve().then(function () { done(null, "cb " + locals.path); });
	};`)
	require.Equal(t, crawler.ConventionCallback, fn.Convention())

	res, err := crawler.Invoke(context.Background(), fn, crawler.Locals{crawler.LocalPath: "/good"})
	require.NoError(t, err)
	require.Equal(t, "cb /good", res.Outputs("/good")[0].Content)

	_, err = crawler.Invoke(context.Background(), fn, crawler.Locals{crawler.LocalPath: "/bad"})
	require.ErrorContains(t, err, "broken page")
}

func TestEvaluate_CallbackNeverInvoked(t *testing.T) {
	t.Parallel()

	fn := renderFunc(t, ModeAuto, `module.exports = function (locals, done) {};`)
	_, err := crawler.Invoke(context.Background(), fn, crawler.Locals{})
	require.ErrorContains(t, err, "not invoked")
}

func TestEvaluate_ForcedMode(t *testing.T) {
	t.Parallel()

	src := `module.exports = function () {
		var done = arguments[1];
		if (typeof done === "function") { done(null, "callback"); return; }
		return "direct";
	};`
	res, err := crawler.Invoke(context.Background(), renderFunc(t, ModeCallback, src), crawler.Locals{})
	require.NoError(t, err)
	require.Equal(t, "callback", res.Outputs("/")[0].Content)

	fn := renderFunc(t, ModeDirect, `module.exports = function (locals, unused) { return "direct"; };`)
	require.Equal(t, crawler.ConventionDirect, fn.Convention())
}

func TestEvaluate_GlobalsAndConsole(t *testing.T) {
	t.Parallel()

	export := evaluate(t, ModeAuto, `console.log("loaded", siteName); module.exports = function () { return global.siteName + "|" + typeof window; };`,
		map[string]any{"siteName": "Docs", "window": map[string]any{}})
	render, ok := crawler.ExportRenderFunc(export)
	require.True(t, ok)
	res, err := crawler.Invoke(context.Background(), render, crawler.Locals{})
	require.NoError(t, err)
	require.Equal(t, "Docs|object", res.Outputs("/")[0].Content)
}

func TestEvaluate_NonFunctionExport(t *testing.T) {
	t.Parallel()

	export := evaluate(t, ModeAuto, `module.exports = { title: "not a renderer" };`, nil)
	_, ok := crawler.ExportRenderFunc(export)
	require.False(t, ok)

	export = evaluate(t, ModeAuto, `exports.render = function () { return ""; };`, nil)
	_, ok = crawler.ExportRenderFunc(export)
	require.False(t, ok)
}

func TestEvaluate_Failures(t *testing.T) {
	t.Parallel()

	eval := New(Config{}, nil)
	_, err := eval.Evaluate(context.Background(), []byte(`module.exports = ;`), "broken.js", nil)
	require.Error(t, err)

	_, err = eval.Evaluate(context.Background(), []byte(`throw new Error("window is not defined");`), "main.js", nil)
	require.ErrorContains(t, err, "window is not defined")
	require.True(t, strings.Contains(err.Error(), "main.js"))

	_, err = eval.Evaluate(context.Background(), []byte(`require("react");`), "main.js", nil)
	require.ErrorContains(t, err, "Cannot find module 'react'")
}

func TestEvaluate_ContextInterruptsLoop(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}, nil).Evaluate(ctx, []byte(`for (;;) {}`), "spin.js", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEvaluate_TimersDrainBeforeResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "callback completed by setTimeout",
			src: `module.exports = function (locals, done) {
				setTimeout(function () { done(null, "late " + locals.path); }, 0);
			};`,
			want: "late /t",
		},
		{
			name: "promise resolved by setTimeout",
			src: `module.exports = function (locals) {
				return new Promise(function (resolve) {
					setTimeout(function () { resolve("timed " + locals.path); }, 5);
				});
			};`,
			want: "timed /t",
		},
		{
			name: "async render awaiting a timer",
			src: `function sleep(ms) { return new Promise(function (r) { setTimeout(r, ms); }); }
			module.exports = async function (locals) { await sleep(1); await sleep(1); return "awaited"; };`,
			want: "awaited",
		},
		{
			name: "interval cleared after three ticks",
			src: `module.exports = function (locals, done) {
				var n = 0;
				var id = setInterval(function () {
					n++;
					if (n === 3) { clearInterval(id); done(null, "ticks " + n); }
				}, 1);
			};`,
			want: "ticks 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fn := renderFunc(t, ModeAuto, tt.src)
			res, err := crawler.Invoke(context.Background(), fn, crawler.Locals{crawler.LocalPath: "/t"})
			require.NoError(t, err)
			require.Equal(t, tt.want, res.Outputs("/t")[0].Content)
		})
	}
}

func TestEvaluate_TimerNeverCallsBack(t *testing.T) {
	t.Parallel()

	fn := renderFunc(t, ModeAuto, `module.exports = function (locals, done) {
		setTimeout(function () {}, 1);
	};`)
	_, err := crawler.Invoke(context.Background(), fn, crawler.Locals{})
	require.ErrorContains(t, err, "not invoked")
}

func TestEvaluate_TopLevelTimerRunsBeforeExport(t *testing.T) {
	t.Parallel()

	fn := renderFunc(t, ModeAuto, `var greeting = "early";
		setTimeout(function () { greeting = "ready"; }, 0);
		module.exports = function () { return greeting; };`)
	res, err := crawler.Invoke(context.Background(), fn, crawler.Locals{})
	require.NoError(t, err)
	require.Equal(t, "ready", res.Outputs("/")[0].Content)
}

func TestEvaluate_OwnDefaultWinsOverFunctionExport(t *testing.T) {
	t.Parallel()

	fn := renderFunc(t, ModeAuto, `function outer() { return "own"; }
		outer.default = function () { return "def"; };
		module.exports = outer;`)
	res, err := crawler.Invoke(context.Background(), fn, crawler.Locals{})
	require.NoError(t, err)
	require.Equal(t, "def", res.Outputs("/")[0].Content)

	export := evaluate(t, ModeAuto, `function outer() { return "own"; }
		outer.default = "not a function";
		module.exports = outer;`, nil)
	_, ok := crawler.ExportRenderFunc(export)
	require.False(t, ok)
}
