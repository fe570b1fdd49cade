// Package crawler implements the render-and-crawl engine: it resolves the
// bundle holding the render function, invokes it once per logical path,
// writes each result into a named output slot and, when crawling, follows the
// links found in freshly written pages until no new slot is produced.
package crawler
