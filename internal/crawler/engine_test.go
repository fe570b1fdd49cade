package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOutputWriter is a mock implementation of the OutputWriter interface.
type MockOutputWriter struct {
	mock.Mock
}

func (m *MockOutputWriter) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	args := m.Called(ctx, path, contentType, data)
	return args.String(0), args.Error(1)
}

// renderCounter counts render invocations per logical path.
type renderCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *renderCounter) hit(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[p]++
}

func (c *renderCounter) get(p string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[p]
}

// sitePages renders a fixed map of logical path to HTML and counts calls.
func sitePages(pages map[string]string, counter *renderCounter) RenderFunc {
	return Direct(func(_ context.Context, locals Locals) (Result, error) {
		p := locals[LocalPath].(string)
		counter.hit(p)
		html, ok := pages[p]
		if !ok {
			return Result{}, fmt.Errorf("no page for %s", p)
		}
		return Page(html), nil
	})
}

func TestEngine_SingleResult(t *testing.T) {
	t.Parallel()

	engine := NewEngine(
		Direct(func(context.Context, Locals) (Result, error) { return Page("<html>A</html>"), nil }),
		Options{}, AssetMap{}, nil, nil, nil, nil, nil,
	)
	engine.RenderPaths(context.Background(), []string{"/x"})

	require.Equal(t, []string{MapPath("/x", nil)}, engine.Outputs().Names())
	content, ok := engine.Outputs().Get("x/index.html")
	require.True(t, ok)
	require.Equal(t, "<html>A</html>", content)
	require.Zero(t, engine.Errors().Len())
}

func TestEngine_MultiResultIgnoresRequestedPath(t *testing.T) {
	t.Parallel()

	engine := NewEngine(
		Direct(func(context.Context, Locals) (Result, error) {
			return sortedPages(map[string]string{"/a": "A", "/b": "B"}), nil
		}),
		Options{PreferFoldersOutput: boolPtr(false)}, AssetMap{}, nil, nil, nil, nil, nil,
	)
	engine.RenderPaths(context.Background(), []string{"/requested"})

	require.ElementsMatch(t, []string{"a.html", "b.html"}, engine.Outputs().Names())
	require.False(t, engine.Outputs().Has("requested.html"))
}

func TestEngine_CollidingSlotsKeepFirst(t *testing.T) {
	t.Parallel()

	engine := NewEngine(
		Direct(func(context.Context, Locals) (Result, error) {
			return OrderedPages(
				Output{Path: "/about", Content: "first"},
				Output{Path: "/about/", Content: "second"},
			), nil
		}),
		Options{Crawl: true}, AssetMap{}, nil, nil, nil, nil, nil,
	)
	engine.RenderPaths(context.Background(), []string{"/"})

	require.Equal(t, 1, engine.Outputs().Len())
	content, _ := engine.Outputs().Get("about/index.html")
	require.Equal(t, "first", content)
}

func TestEngine_NeverOverwritesExistingSlot(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.True(t, registry.Put("index.html", "host content"))

	counter := &renderCounter{}
	render := sitePages(map[string]string{"/": "rendered"}, counter)
	for range 2 {
		engine := NewEngine(render, Options{}, AssetMap{}, nil, registry, nil, nil, nil)
		engine.RenderPaths(context.Background(), []string{"/"})
	}

	content, _ := registry.Get("index.html")
	require.Equal(t, "host content", content)
	require.Equal(t, 1, registry.Len())
}

func TestEngine_CrawlTerminatesOnCycles(t *testing.T) {
	t.Parallel()

	counter := &renderCounter{}
	render := sitePages(map[string]string{
		"/a": `<a href="/b">b</a>`,
		"/b": `<a href="/a">a</a><a href="a">relative a</a>`,
	}, counter)

	engine := NewEngine(render, Options{Crawl: true}, AssetMap{}, nil, nil, nil, nil, nil)
	engine.RenderPaths(context.Background(), []string{"/a"})

	require.Equal(t, 1, counter.get("/a"))
	require.Equal(t, 1, counter.get("/b"))
	require.ElementsMatch(t, []string{"a/index.html", "b/index.html"}, engine.Outputs().Names())
	require.Zero(t, engine.Errors().Len())
}

func TestEngine_CrawlFollowsNestedRelativeLinks(t *testing.T) {
	t.Parallel()

	counter := &renderCounter{}
	render := sitePages(map[string]string{
		"/":            `<a href="/blog/post-1">post</a><iframe src="/embed"></iframe><a href="https://elsewhere.test/">x</a>`,
		"/blog/post-1": `<a href="../about">about</a><a href="post-2">next</a>`,
		"/blog/post-2": `<a href="/">root</a><a href="post-1#top">prev</a>`,
		"/about":       `<p>about</p>`,
		"/embed":       `<p>embed</p>`,
	}, counter)

	engine := NewEngine(render, Options{Crawl: true, PreferFoldersOutput: boolPtr(false)}, AssetMap{}, nil, nil, nil, nil, nil)
	engine.RenderPaths(context.Background(), []string{"/"})

	require.ElementsMatch(t, []string{
		"index.html",
		"blog/post-1.html",
		"blog/post-2.html",
		"about.html",
		"embed.html",
	}, engine.Outputs().Names())
	for _, p := range []string{"/", "/blog/post-1", "/blog/post-2", "/about", "/embed"} {
		require.Equal(t, 1, counter.get(p), p)
	}
	require.Zero(t, engine.Errors().Len())
}

func TestEngine_WithoutCrawlLinksAreIgnored(t *testing.T) {
	t.Parallel()

	counter := &renderCounter{}
	render := sitePages(map[string]string{"/": `<a href="/next">n</a>`}, counter)
	engine := NewEngine(render, Options{}, AssetMap{}, nil, nil, nil, nil, nil)
	engine.RenderPaths(context.Background(), []string{"/"})

	require.Equal(t, 0, counter.get("/next"))
	require.Equal(t, 1, engine.Outputs().Len())
}

func TestEngine_CallbackErrorDoesNotStopSiblings(t *testing.T) {
	t.Parallel()

	render := Callback(func(locals Locals, done func(Result, error)) {
		if locals[LocalPath] == "/broken" {
			done(Result{}, errors.New("template exploded"))
			return
		}
		go done(Page("ok "+locals[LocalPath].(string)), nil)
	})
	engine := NewEngine(render, Options{}, AssetMap{}, nil, nil, nil, nil, nil)
	engine.RenderPaths(context.Background(), []string{"/one", "/broken", "/two"})

	require.ElementsMatch(t, []string{"one/index.html", "two/index.html"}, engine.Outputs().Names())
	require.Equal(t, 1, engine.Errors().Len())

	var renderErr *RenderError
	require.ErrorAs(t, engine.Errors().Errors()[0], &renderErr)
	require.Equal(t, "/broken", renderErr.Path)
	require.False(t, IsFatal(renderErr))
}

func TestEngine_LocalsMergeOrder(t *testing.T) {
	t.Parallel()

	var seen sync.Map
	render := Direct(func(_ context.Context, locals Locals) (Result, error) {
		seen.Store(locals[LocalPath], locals)
		return Page("x"), nil
	})
	assets := AssetMap{"main": "/main.js"}
	stats := map[string]any{"hash": "abc"}
	opts := Options{Locals: map[string]any{"title": "Site", LocalAssets: "shadowed"}}

	engine := NewEngine(render, opts, assets, stats, nil, nil, nil, nil)
	engine.RenderPaths(context.Background(), []string{"/p"})

	v, ok := seen.Load("/p")
	require.True(t, ok)
	locals := v.(Locals)
	require.Equal(t, "Site", locals["title"])
	require.Equal(t, "shadowed", locals[LocalAssets])
	require.Equal(t, stats, locals[LocalStats])
}

func TestEngine_WriteThrough(t *testing.T) {
	t.Parallel()

	writer := new(MockOutputWriter)
	writer.On("PutObject", mock.Anything, "good/index.html", "text/html; charset=utf-8", mock.Anything).
		Return("memory://good/index.html", nil)
	writer.On("PutObject", mock.Anything, "bad/index.html", "text/html; charset=utf-8", mock.Anything).
		Return("", errors.New("disk full"))

	counter := &renderCounter{}
	render := sitePages(map[string]string{
		"/good": "good",
		"/bad":  `<a href="/child">c</a>`,
	}, counter)
	engine := NewEngine(render, Options{Crawl: true}, AssetMap{}, nil, nil, nil, writer, nil)
	engine.RenderPaths(context.Background(), []string{"/good", "/bad"})

	writer.AssertExpectations(t)
	require.Equal(t, "memory://good/index.html", engine.Outputs().URI("good/index.html"))
	require.Equal(t, 0, counter.get("/child"))
	require.Equal(t, 1, engine.Errors().Len())

	var writeErr *WriteError
	require.ErrorAs(t, engine.Errors().Errors()[0], &writeErr)
	require.Equal(t, "bad/index.html", writeErr.Slot)
}

func TestEngine_ConcurrencyBound(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	render := Direct(func(_ context.Context, locals Locals) (Result, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		links := make([]string, 0, 4)
		if p := locals[LocalPath].(string); len(p) < 4 {
			for i := range 4 {
				links = append(links, fmt.Sprintf(`<a href="%s%d/">x</a>`, p, i))
			}
		}
		return Page(strings.Join(links, "")), nil
	})

	engine := NewEngine(render, Options{Crawl: true, Concurrency: 2}, AssetMap{}, nil, nil, nil, nil, nil)
	engine.RenderPaths(context.Background(), []string{"/"})

	require.LessOrEqual(t, peak.Load(), int32(2))
	require.Greater(t, engine.Outputs().Len(), 1)
	require.Zero(t, engine.Errors().Len())
}
