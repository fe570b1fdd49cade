package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks returns the same-origin paths referenced by the page rendered
// for currentPath: every a[href] followed by every iframe[src], in document
// order. Protocol-relative and scheme-qualified references are dropped and
// relative ones are resolved against currentPath. The result may contain
// duplicates.
func ExtractLinks(html string, currentPath string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html for %s: %w", currentPath, err)
	}

	var refs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		refs = append(refs, href)
	})
	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		refs = append(refs, src)
	})

	base, err := url.Parse(currentPath)
	if err != nil {
		base = &url.URL{Path: currentPath}
	}

	paths := make([]string, 0, len(refs))
	for _, ref := range refs {
		if p, ok := relativePath(ref, base); ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func relativePath(ref string, base *url.URL) (string, bool) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "//") {
		return "", false
	}
	parsed, err := url.Parse(ref)
	if err != nil || parsed.Scheme != "" || parsed.Path == "" {
		return "", false
	}
	if strings.HasPrefix(parsed.Path, "/") {
		return cleanPath(parsed), true
	}
	resolved := base.ResolveReference(&url.URL{Path: parsed.Path, RawPath: parsed.RawPath})
	return cleanPath(resolved), true
}

// cleanPath removes dot segments from a rooted path, so a link can never
// name a slot above the output root. A trailing slash is kept.
func cleanPath(u *url.URL) string {
	cleaned := path.Clean(u.Path)
	if cleaned != "/" && strings.HasSuffix(u.Path, "/") {
		cleaned += "/"
	}
	if cleaned == u.Path {
		return u.EscapedPath()
	}
	return (&url.URL{Path: cleaned}).EscapedPath()
}
