package tiff

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/deploymenttheory/go-wsi-deid/internal/types"
)

// Container is a parsed TIFF or BigTIFF file: its addressing mode and the
// top-level directory chain.
type Container struct {
	Path        string
	ByteOrder   binary.ByteOrder
	Big         bool
	Directories []*Directory
}

// Directory is one IFD. Payloads referenced by offset tags stay in the
// Source file until the writer copies them; Chunks replaces selected
// payloads with in-memory data.
type Directory struct {
	Offset         uint64
	Entries        map[uint16]*Entry
	SubDirectories [][]*Directory
	Source         string

	// Chunks maps an offset tag to replacement payloads indexed like the
	// tag's values. A nil element keeps the payload from Source.
	Chunks map[uint16][][]byte
}

// NewDirectory returns an empty directory whose payloads live in source.
func NewDirectory(source string) *Directory {
	return &Directory{Entries: make(map[uint16]*Entry), Source: source}
}

// Get returns the entry for tag or nil.
func (d *Directory) Get(tag uint16) *Entry {
	return d.Entries[tag]
}

// Has reports whether the directory carries tag.
func (d *Directory) Has(tag uint16) bool {
	_, ok := d.Entries[tag]
	return ok
}

// Set stores e, replacing any entry with the same tag.
func (d *Directory) Set(e *Entry) {
	d.Entries[e.Tag] = e
}

// Delete removes tag if present.
func (d *Directory) Delete(tag uint16) {
	delete(d.Entries, tag)
	delete(d.Chunks, tag)
}

// SetASCII stores an ASCII entry.
func (d *Directory) SetASCII(tag uint16, value string) {
	d.Set(NewASCII(tag, value))
}

// ASCII returns the text of an ASCII entry, or "" when absent.
func (d *Directory) ASCII(tag uint16) string {
	if e := d.Entries[tag]; e != nil {
		return e.Text
	}
	return ""
}

// Description returns ImageDescription.
func (d *Directory) Description() string {
	return d.ASCII(types.TagImageDescription)
}

// Uint returns the first value of a numeric entry.
func (d *Directory) Uint(tag uint16) (uint64, bool) {
	e := d.Entries[tag]
	if e == nil || e.Len() == 0 {
		return 0, false
	}
	return e.Uint(0), true
}

// Int returns the first value of a numeric entry as a signed integer.
func (d *Directory) Int(tag uint16) (int64, bool) {
	e := d.Entries[tag]
	if e == nil || e.Len() == 0 {
		return 0, false
	}
	return e.Int(0), true
}

// Width returns ImageWidth or 0.
func (d *Directory) Width() uint64 {
	v, _ := d.Uint(types.TagImageWidth)
	return v
}

// Height returns ImageLength or 0.
func (d *Directory) Height() uint64 {
	v, _ := d.Uint(types.TagImageLength)
	return v
}

// Tiled reports whether the image is stored in tiles.
func (d *Directory) Tiled() bool {
	return d.Has(types.TagTileOffsets)
}

// SortedTags returns the directory's tag ids in ascending order.
func (d *Directory) SortedTags() []uint16 {
	tags := make([]uint16, 0, len(d.Entries))
	for tag := range d.Entries {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// SetChunk overrides payload index of an offset tag with data.
func (d *Directory) SetChunk(tag uint16, index int, data []byte) {
	if d.Chunks == nil {
		d.Chunks = make(map[uint16][][]byte)
	}
	e := d.Entries[tag]
	n := 0
	if e != nil {
		n = int(e.Len())
	}
	if index >= n {
		n = index + 1
	}
	chunks := d.Chunks[tag]
	for len(chunks) < n {
		chunks = append(chunks, nil)
	}
	chunks[index] = data
	d.Chunks[tag] = chunks
}

// Clone returns a copy whose entry map and chunk table can be edited
// without touching d. Entry values and payload bytes are shared.
func (d *Directory) Clone() *Directory {
	c := &Directory{
		Offset:  d.Offset,
		Entries: make(map[uint16]*Entry, len(d.Entries)),
		Source:  d.Source,
	}
	for tag, e := range d.Entries {
		c.Entries[tag] = e
	}
	if d.Chunks != nil {
		c.Chunks = make(map[uint16][][]byte, len(d.Chunks))
		for tag, chunks := range d.Chunks {
			c.Chunks[tag] = append([][]byte(nil), chunks...)
		}
	}
	for _, chain := range d.SubDirectories {
		sub := make([]*Directory, len(chain))
		for i, s := range chain {
			sub[i] = s.Clone()
		}
		c.SubDirectories = append(c.SubDirectories, sub)
	}
	return c
}

// Clone copies the container's directory structure.
func (c *Container) Clone() *Container {
	out := &Container{Path: c.Path, ByteOrder: c.ByteOrder, Big: c.Big}
	for _, d := range c.Directories {
		out.Directories = append(out.Directories, d.Clone())
	}
	return out
}

// RemoveDirectories drops the top-level directories at the given
// indices. Removal runs in descending index order so earlier indices
// stay valid while the pass runs.
func (c *Container) RemoveDirectories(indices []int) {
	sorted := append([]int(nil), indices...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	last := -1
	for _, idx := range sorted {
		if idx == last || idx < 0 || idx >= len(c.Directories) {
			continue
		}
		c.Directories = append(c.Directories[:idx], c.Directories[idx+1:]...)
		last = idx
	}
}

// InsertDirectory places dir at index, shifting later directories.
func (c *Container) InsertDirectory(index int, dir *Directory) {
	if index >= len(c.Directories) {
		c.Directories = append(c.Directories, dir)
		return
	}
	if index < 0 {
		index = 0
	}
	c.Directories = append(c.Directories[:index], append([]*Directory{dir}, c.Directories[index:]...)...)
}

// Walk visits every directory depth first, sub-directories after their
// owner.
func (c *Container) Walk(fn func(path []int, d *Directory)) {
	var visit func(path []int, chain []*Directory)
	visit = func(path []int, chain []*Directory) {
		for i, d := range chain {
			p := append(append([]int(nil), path...), i)
			fn(p, d)
			for j, sub := range d.SubDirectories {
				visit(append(p, j), sub)
			}
		}
	}
	visit(nil, c.Directories)
}

// IsDescriptionPrefix reports whether directory 0's description starts
// with prefix, ignoring case.
func (c *Container) IsDescriptionPrefix(prefix string) bool {
	if len(c.Directories) == 0 {
		return false
	}
	return strings.HasPrefix(strings.ToLower(c.Directories[0].Description()), strings.ToLower(prefix))
}
