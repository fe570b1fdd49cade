// Package bundle loads the inputs a build hands to the site generator: the
// stats manifest describing chunks and the compiled assets themselves.
package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/gjson"

	"github.com/JakeFAU/sitegen/internal/crawler"
)

// DefaultAssetsGlob selects every file under the build directory.
const DefaultAssetsGlob = "**/*"

// Stats is the part of a build stats document the generator consumes.
type Stats struct {
	// Chunks maps chunk names to artifacts in the order the document lists them.
	Chunks crawler.ChunkMap
	// PublicPath is the URL prefix of emitted assets.
	PublicPath string
	// Raw is the whole document decoded into plain Go values.
	Raw any
}

// ParseStats reads a stats document. Each assetsByChunkName value is either
// a filename or a list of filenames; lists mark multi-artifact chunks.
func ParseStats(data []byte) (Stats, error) {
	if !gjson.ValidBytes(data) {
		return Stats{}, errors.New("stats: invalid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return Stats{}, errors.New("stats: document is not an object")
	}

	byChunk := doc.Get("assetsByChunkName")
	if !byChunk.Exists() {
		return Stats{}, errors.New("stats: missing assetsByChunkName")
	}

	var (
		chunks  crawler.ChunkMap
		walkErr error
	)
	byChunk.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		switch {
		case value.Type == gjson.String:
			chunks.Add(name, value.String())
		case value.IsArray():
			var files []string
			for _, f := range value.Array() {
				files = append(files, f.String())
			}
			chunks.AddMulti(name, files...)
		default:
			walkErr = fmt.Errorf("stats: chunk %q: unexpected %s value", name, value.Type)
			return false
		}
		return true
	})
	if walkErr != nil {
		return Stats{}, walkErr
	}

	return Stats{
		Chunks:     chunks,
		PublicPath: doc.Get("publicPath").String(),
		Raw:        doc.Value(),
	}, nil
}

// LoadStats reads and parses the stats document at path.
func LoadStats(path string) (Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, fmt.Errorf("read stats: %w", err)
	}
	return ParseStats(data)
}

// LoadAssets reads every file under dir matching pattern. Keys are
// slash-separated paths relative to dir.
func LoadAssets(dir, pattern string) (map[string][]byte, error) {
	if pattern == "" {
		pattern = DefaultAssetsGlob
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid assets glob %q", pattern)
	}
	fsys := os.DirFS(filepath.Clean(dir))
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob assets: %w", err)
	}

	assets := make(map[string][]byte, len(matches))
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read asset %s: %w", name, err)
		}
		assets[name] = data
	}
	return assets, nil
}

// Build assembles the generator input. publicPath, when non-empty,
// overrides the stats value.
func (s Stats) Build(assets map[string][]byte, publicPath string) crawler.Build {
	if publicPath == "" {
		publicPath = s.PublicPath
	}
	return crawler.Build{
		Assets:     assets,
		Chunks:     s.Chunks,
		PublicPath: publicPath,
		Stats:      s.Raw,
	}
}
