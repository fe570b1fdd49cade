package crawler

import (
	"strings"
)

// BundleExt is the extension of the artifact that holds a chunk's code.
const BundleExt = ".js"

// Chunk is one named group of artifacts. Multi is set when the host reported
// a list of filenames (e.g. a bundle plus its source map).
type Chunk struct {
	Name  string
	Files []string
	Multi bool
}

// Primary returns the filename that represents the chunk: the only file of a
// single-artifact chunk, or the first bundle file of a multi-artifact one.
func (c Chunk) Primary() (string, bool) {
	if !c.Multi {
		if len(c.Files) == 0 {
			return "", false
		}
		return c.Files[0], true
	}
	for _, f := range c.Files {
		if strings.HasSuffix(f, BundleExt) {
			return f, true
		}
	}
	return "", false
}

// ChunkMap maps chunk names to their artifacts and remembers the order the
// host reported them in.
type ChunkMap struct {
	chunks []Chunk
	index  map[string]int
}

// Add registers a single-artifact chunk.
func (m *ChunkMap) Add(name, file string) {
	m.put(Chunk{Name: name, Files: []string{file}})
}

// AddMulti registers a multi-artifact chunk.
func (m *ChunkMap) AddMulti(name string, files ...string) {
	m.put(Chunk{Name: name, Files: append([]string(nil), files...), Multi: true})
}

func (m *ChunkMap) put(c Chunk) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[c.Name]; ok {
		m.chunks[i] = c
		return
	}
	m.index[c.Name] = len(m.chunks)
	m.chunks = append(m.chunks, c)
}

// Lookup returns the chunk registered under name.
func (m ChunkMap) Lookup(name string) (Chunk, bool) {
	i, ok := m.index[name]
	if !ok {
		return Chunk{}, false
	}
	return m.chunks[i], true
}

// Chunks returns the chunks in host order.
func (m ChunkMap) Chunks() []Chunk {
	return append([]Chunk(nil), m.chunks...)
}

// Len returns the number of chunks.
func (m ChunkMap) Len() int {
	return len(m.chunks)
}

// DefaultEntry returns the entry used when none is configured: the first
// chunk the host reported.
func (m ChunkMap) DefaultEntry() string {
	if len(m.chunks) == 0 {
		return ""
	}
	return m.chunks[0].Name
}

// Resolve locates the compiled module holding the render function. A direct
// asset name wins over a chunk name. ok is false when nothing matches; that
// is not an error here, the caller decides.
func Resolve(entry string, assets map[string][]byte, chunks ChunkMap) (src []byte, ok bool) {
	_, src, ok = ResolveFile(entry, assets, chunks)
	return src, ok
}

// ResolveFile is Resolve that also reports the asset name the source was
// read from.
func ResolveFile(entry string, assets map[string][]byte, chunks ChunkMap) (file string, src []byte, ok bool) {
	if entry == "" {
		entry = chunks.DefaultEntry()
	}
	if src, ok := assets[entry]; ok {
		return entry, src, true
	}
	chunk, ok := chunks.Lookup(entry)
	if !ok {
		return "", nil, false
	}
	file, ok = chunk.Primary()
	if !ok {
		return "", nil, false
	}
	src, ok = assets[file]
	return file, src, ok
}

// BuildAssetMap projects the chunk map into chunk name to public URL.
// Chunks without a primary artifact are left out and reported in skipped.
func BuildAssetMap(chunks ChunkMap, publicPath string) (assets AssetMap, skipped []string) {
	assets = make(AssetMap, chunks.Len())
	for _, c := range chunks.chunks {
		file, ok := c.Primary()
		if !ok {
			skipped = append(skipped, c.Name)
			continue
		}
		assets[c.Name] = publicPath + file
	}
	return assets, skipped
}
