package crawler

import "time"

// Built-in locals passed to every render call.
const (
	LocalPath   = "path"
	LocalAssets = "assets"
	LocalStats  = "webpackStats"
)

// Locals is the argument handed to a render function.
type Locals map[string]any

// AssetMap maps a chunk name to the public URL of its primary artifact.
type AssetMap map[string]string

// Output is one rendered document keyed by the logical path it belongs to.
type Output struct {
	Path    string
	Content string
}

// Result is what a render function produced: either a single document for
// the requested path or a set of documents keyed by their own logical paths.
type Result struct {
	single  bool
	content string
	pages   []Output
}

// Page returns a single-document Result.
func Page(html string) Result {
	return Result{single: true, content: html}
}

// OrderedPages returns a multi-document Result that keeps the given order.
func OrderedPages(pages ...Output) Result {
	return Result{pages: append([]Output(nil), pages...)}
}

// IsSingle reports whether the result applies to the requesting path only.
func (r Result) IsSingle() bool {
	return r.single
}

// Outputs normalizes the result into (logical path, content) pairs. A single
// document is attributed to requestedPath.
func (r Result) Outputs(requestedPath string) []Output {
	if r.single {
		return []Output{{Path: requestedPath, Content: r.content}}
	}
	return append([]Output(nil), r.pages...)
}

// Options configure one site generator.
type Options struct {
	// Entry names the compiled asset or chunk holding the render function.
	// Empty selects the first chunk reported by the host.
	Entry string
	// Paths are the logical paths rendered first. Defaults to "/".
	Paths []string
	// Locals are merged into every render call after the built-ins.
	Locals map[string]any
	// Globals are exposed as ambient bindings inside the evaluated module.
	Globals map[string]any
	// Crawl follows a[href] and iframe[src] references in written pages.
	Crawl bool
	// PreferFoldersOutput selects the output naming convention; nil keeps
	// the legacy "<path>/index.html" layout.
	PreferFoldersOutput *bool
	// Concurrency bounds in-flight renders. Zero means unbounded.
	Concurrency int
	// ContentType is attached to every output written through.
	ContentType string
}

// Build is everything the host hands over for one compilation pass.
type Build struct {
	// Assets maps compiled asset names to their content.
	Assets map[string][]byte
	// Chunks maps chunk names to the filenames they produced.
	Chunks ChunkMap
	// PublicPath prefixes every entry of the asset map.
	PublicPath string
	// Stats is exposed verbatim as the webpackStats local.
	Stats any
	// Outputs is the host output collection; nil starts empty.
	Outputs *Registry
}

// PassStatus summarizes how a pass ended.
type PassStatus string

// Pass statuses.
const (
	PassSucceeded PassStatus = "succeeded"
	PassPartial   PassStatus = "partial"
	PassFailed    PassStatus = "failed"
)

// Pass holds the state of one compilation pass.
type Pass struct {
	ID       string
	Entry    string
	Outputs  *Registry
	Errors   *ErrorLog
	Written  []string
	Fatal    bool
	Started  time.Time
	Finished time.Time
}

// Status classifies the pass outcome.
func (p *Pass) Status() PassStatus {
	switch {
	case p.Fatal:
		return PassFailed
	case p.Errors.Len() > 0:
		return PassPartial
	default:
		return PassSucceeded
	}
}

// Summary returns the compact, serializable description of the pass.
func (p *Pass) Summary() PassSummary {
	return PassSummary{
		ID:         p.ID,
		Entry:      p.Entry,
		Status:     p.Status(),
		Outputs:    len(p.Written),
		Errors:     p.Errors.Len(),
		StartedAt:  p.Started,
		DurationMs: p.Finished.Sub(p.Started).Milliseconds(),
	}
}

// PassSummary is published and persisted after each pass.
type PassSummary struct {
	ID         string     `json:"id"`
	Entry      string     `json:"entry"`
	Status     PassStatus `json:"status"`
	Outputs    int        `json:"outputs"`
	Errors     int        `json:"errors"`
	StartedAt  time.Time  `json:"started_at"`
	DurationMs int64      `json:"duration_ms"`
}

// OutputRecord describes one written slot in the manifest.
type OutputRecord struct {
	Slot  string `json:"slot"`
	Hash  string `json:"hash"`
	Bytes int    `json:"bytes"`
	URI   string `json:"uri,omitempty"`
}

// PassRecord is the manifest row set for one pass.
type PassRecord struct {
	Summary    PassSummary    `json:"summary"`
	Outputs    []OutputRecord `json:"outputs"`
	ErrorTexts []string       `json:"errors"`
	RecordedAt time.Time      `json:"recorded_at"`
}
