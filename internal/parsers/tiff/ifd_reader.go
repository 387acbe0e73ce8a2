package tiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// Reader parses TIFF and BigTIFF containers.
type Reader struct {
	logger *slog.Logger
}

// NewReader creates a Reader. A nil logger uses slog.Default().
func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{logger: logger}
}

// Read parses the container at path with the default logger.
func Read(path string) (*Container, error) {
	return NewReader(nil).Read(path)
}

// Read parses the header and the full directory chain of path, including
// SubIFD chains.
func (r *Reader) Read(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, app.IOError("failed to open "+path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, app.IOError("failed to stat "+path, err)
	}

	p := &ifdParser{
		src:     f,
		size:    uint64(info.Size()),
		path:    path,
		logger:  r.logger,
		visited: make(map[uint64]bool),
	}
	return p.parse()
}

type ifdParser struct {
	src     io.ReaderAt
	size    uint64
	path    string
	order   binary.ByteOrder
	big     bool
	logger  *slog.Logger
	visited map[uint64]bool
}

func (p *ifdParser) readAt(offset, length uint64) ([]byte, error) {
	if offset > p.size || length > p.size-offset {
		return nil, app.FormatError("%s: %d bytes at offset %d lie beyond end of file (%d bytes)", p.path, length, offset, p.size)
	}
	buf := make([]byte, length)
	if _, err := p.src.ReadAt(buf, int64(offset)); err != nil && !errors.Is(err, io.EOF) {
		return nil, app.IOError(fmt.Sprintf("failed to read %s at offset %d", p.path, offset), err)
	}
	return buf, nil
}

func (p *ifdParser) parse() (*Container, error) {
	header, err := p.readAt(0, 8)
	if err != nil {
		return nil, app.FormatError("%s: file too short for a TIFF header", p.path)
	}

	switch string(header[:2]) {
	case types.TIFFByteOrderLittle:
		p.order = binary.LittleEndian
	case types.TIFFByteOrderBig:
		p.order = binary.BigEndian
	default:
		return nil, app.FormatError("%s: unrecognized byte order marker %q", p.path, header[:2])
	}

	var first uint64
	switch magic := p.order.Uint16(header[2:4]); magic {
	case types.TIFFMagicClassic:
		first = uint64(p.order.Uint32(header[4:8]))
	case types.TIFFMagicBig:
		p.big = true
		if offsetSize := p.order.Uint16(header[4:6]); offsetSize != 8 {
			return nil, app.FormatError("%s: unexpected BigTIFF offset size %d", p.path, offsetSize)
		}
		if reserved := p.order.Uint16(header[6:8]); reserved != 0 {
			return nil, app.FormatError("%s: unexpected BigTIFF reserved field %d", p.path, reserved)
		}
		ptr, err := p.readAt(8, 8)
		if err != nil {
			return nil, err
		}
		first = p.order.Uint64(ptr)
	default:
		return nil, app.FormatError("%s: unrecognized TIFF magic 0x%04x", p.path, magic)
	}

	dirs, err := p.parseChain(first)
	if err != nil {
		return nil, err
	}
	return &Container{Path: p.path, ByteOrder: p.order, Big: p.big, Directories: dirs}, nil
}

func (p *ifdParser) parseChain(offset uint64) ([]*Directory, error) {
	var chain []*Directory
	for offset != 0 {
		if p.visited[offset] {
			return nil, app.FormatError("%s: directory chain loops back to offset %d", p.path, offset)
		}
		p.visited[offset] = true

		dir, next, err := p.parseDirectory(offset)
		if err != nil {
			return nil, err
		}
		chain = append(chain, dir)
		offset = next
	}
	return chain, nil
}

func (p *ifdParser) parseDirectory(offset uint64) (*Directory, uint64, error) {
	countSize, entrySize, slotSize := uint64(2), uint64(types.TIFFClassicEntrySize), uint64(4)
	if p.big {
		countSize, entrySize, slotSize = 8, types.TIFFBigEntrySize, 8
	}

	raw, err := p.readAt(offset, countSize)
	if err != nil {
		return nil, 0, err
	}
	var count uint64
	if p.big {
		count = p.order.Uint64(raw)
	} else {
		count = uint64(p.order.Uint16(raw))
	}
	if count > (p.size-offset-countSize)/entrySize {
		return nil, 0, app.FormatError("%s: directory at %d claims %d entries", p.path, offset, count)
	}

	block, err := p.readAt(offset+countSize, count*entrySize+slotSize)
	if err != nil {
		return nil, 0, err
	}

	dir := NewDirectory(p.path)
	dir.Offset = offset

	for i := uint64(0); i < count; i++ {
		rec := block[i*entrySize : (i+1)*entrySize]
		tag := p.order.Uint16(rec[0:2])
		dt := types.Datatype(p.order.Uint16(rec[2:4]))
		var n uint64
		var slot []byte
		if p.big {
			n = p.order.Uint64(rec[4:12])
			slot = rec[12:20]
		} else {
			n = uint64(p.order.Uint32(rec[4:8]))
			slot = rec[8:12]
		}

		if !dt.Valid() {
			return nil, 0, app.FormatError("%s: directory at %d tag %d has unknown datatype %d", p.path, offset, tag, dt)
		}
		length := n * uint64(dt.Size())
		if n > p.size || length > p.size {
			return nil, 0, app.FormatError("%s: directory at %d tag %d claims %d values", p.path, offset, tag, n)
		}

		data := slot[:min(length, slotSize)]
		if length > slotSize {
			var ptr uint64
			if p.big {
				ptr = p.order.Uint64(slot)
			} else {
				ptr = uint64(p.order.Uint32(slot))
			}
			if data, err = p.readAt(ptr, length); err != nil {
				return nil, 0, err
			}
		}

		entry, err := unpack(p.order, tag, dt, n, data)
		if err != nil {
			return nil, 0, app.NewError(app.KindFormat, p.path, err)
		}
		if _, dup := dir.Entries[tag]; dup {
			p.logger.Warn("duplicate tag in directory, keeping last",
				"path", p.path, "offset", offset, "tag", types.TagName(tag))
		}
		dir.Entries[tag] = entry
	}

	if sub := dir.Entries[types.TagSubIFD]; sub != nil {
		for _, ptr := range sub.Values() {
			chain, err := p.parseChain(ptr)
			if err != nil {
				return nil, 0, err
			}
			dir.SubDirectories = append(dir.SubDirectories, chain)
		}
	}

	tail := block[count*entrySize:]
	var next uint64
	if p.big {
		next = p.order.Uint64(tail)
	} else {
		next = uint64(p.order.Uint32(tail))
	}
	return dir, next, nil
}
