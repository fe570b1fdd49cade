package crawler

import (
	"path"
	"regexp"
	"strings"
)

var htmlFileName = regexp.MustCompile(`(?i)\.html?$`)

// MapPath maps a logical path to its output slot name. preferFolders nil is
// the legacy mode where every path becomes "<path>/index.html". The mapping is
// pure; the crawl relies on it to recognize pages it already produced.
func MapPath(logicalPath string, preferFolders *bool) string {
	name := logicalPath
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		name = name[1:]
	}

	if htmlFileName.MatchString(name) {
		return name
	}

	if preferFolders == nil {
		return path.Join(name, "index.html")
	}

	if logicalPath == "" || strings.HasSuffix(logicalPath, "/") || *preferFolders {
		return path.Join(name, "index.html")
	}
	return name + ".html"
}
