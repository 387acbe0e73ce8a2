package tiff

import (
	"fmt"
	"os"

	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// PayloadReader reads offset-addressed payloads of directories, keeping
// one handle per source file open until Close.
type PayloadReader struct {
	files map[string]*os.File
}

// NewPayloadReader creates an empty PayloadReader.
func NewPayloadReader() *PayloadReader {
	return &PayloadReader{files: make(map[string]*os.File)}
}

// Close releases every open source handle.
func (r *PayloadReader) Close() error {
	var first error
	for path, f := range r.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.files, path)
	}
	return first
}

// Count returns the number of payloads addressed by offTag.
func (r *PayloadReader) Count(d *Directory, offTag uint16) int {
	if e := d.Entries[offTag]; e != nil {
		return int(e.Len())
	}
	return len(d.Chunks[offTag])
}

// Read returns payload i of offTag, honoring in-memory chunks.
func (r *PayloadReader) Read(d *Directory, offTag uint16, i int) ([]byte, error) {
	if chunks := d.Chunks[offTag]; i < len(chunks) && chunks[i] != nil {
		return chunks[i], nil
	}
	offEntry := d.Entries[offTag]
	countEntry := d.Entries[types.OffsetTagPairs[offTag]]
	if offEntry == nil || countEntry == nil || i >= int(offEntry.Len()) || i >= int(countEntry.Len()) {
		return nil, app.FormatError("directory has no payload %d for %s", i, types.TagName(offTag))
	}
	f, ok := r.files[d.Source]
	if !ok {
		var err error
		if f, err = os.Open(d.Source); err != nil {
			return nil, app.IOError("failed to open payload source "+d.Source, err)
		}
		r.files[d.Source] = f
	}
	buf := make([]byte, countEntry.Uint(i))
	if _, err := f.ReadAt(buf, int64(offEntry.Uint(i))); err != nil {
		return nil, app.IOError(fmt.Sprintf("failed to read payload %d of %s", i, d.Source), err)
	}
	return buf, nil
}

// ReadAll returns every payload of offTag in order.
func (r *PayloadReader) ReadAll(d *Directory, offTag uint16) ([][]byte, error) {
	n := r.Count(d, offTag)
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		data, err := r.Read(d, offTag, i)
		if err != nil {
			return nil, err
		}
		out[i] = data
	}
	return out, nil
}

// NewStripDirectory builds a directory for an image held entirely in
// memory as strips of rowsPerStrip rows.
func NewStripDirectory(width, height, rowsPerStrip uint64, strips [][]byte) *Directory {
	d := NewDirectory("")
	counts := make([]uint64, len(strips))
	for i, s := range strips {
		counts[i] = uint64(len(s))
	}
	d.Set(NewLongs(types.TagImageWidth, width))
	d.Set(NewLongs(types.TagImageLength, height))
	d.Set(NewLongs(types.TagRowsPerStrip, rowsPerStrip))
	d.Set(NewLongs(types.TagStripOffsets, make([]uint64, len(strips))...))
	d.Set(NewLongs(types.TagStripByteCounts, counts...))
	d.Chunks = map[uint16][][]byte{types.TagStripOffsets: strips}
	return d
}
