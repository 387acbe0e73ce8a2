package tiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// classicOffsetLimit is the first file position a classic TIFF cannot
// address. Tests lower it to exercise the BigTIFF fallback.
var classicOffsetLimit uint64 = 1 << 32

var errClassicOverflow = errors.New("output exceeds classic TIFF addressing")

// offsetTagOrder fixes the order payload tables are emitted in.
var offsetTagOrder = []uint16{
	types.TagStripOffsets,
	types.TagTileOffsets,
	types.TagFreeOffsets,
	types.TagJPEGIFOffset,
}

// WriteOptions controls output encoding. Nil pointers keep the source
// container's setting.
type WriteOptions struct {
	BigEndian     *bool
	Big           *bool
	AllowExisting bool
	// ForceClassic reports an overflow as OffsetOverflowError instead of
	// retrying in BigTIFF mode.
	ForceClassic bool
}

// Writer serializes containers.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a Writer. A nil logger uses slog.Default().
func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{logger: logger}
}

// Write serializes c to path with the default logger.
func Write(c *Container, path string, opts WriteOptions) error {
	return NewWriter(nil).Write(c, path, opts)
}

// Write serializes c to path. The output is assembled in a sibling
// temporary file and renamed into place only on success. A classic
// write that outgrows 32-bit offsets is discarded and redone once in
// BigTIFF mode; BigTIFF has no such ceiling so there is no second retry.
func (w *Writer) Write(c *Container, path string, opts WriteOptions) error {
	if !opts.AllowExisting {
		if _, err := os.Stat(path); err == nil {
			return app.IOError("refusing to overwrite "+path, os.ErrExist)
		}
	}

	order := c.ByteOrder
	if order == nil {
		order = binary.LittleEndian
	}
	if opts.BigEndian != nil {
		if *opts.BigEndian {
			order = binary.BigEndian
		} else {
			order = binary.LittleEndian
		}
	}
	big := c.Big
	if opts.Big != nil {
		big = *opts.Big
	}
	if opts.ForceClassic {
		big = false
	}

	err := w.writeFile(c, path, order, big)
	if errors.Is(err, errClassicOverflow) && !big {
		if opts.ForceClassic {
			return app.NewError(app.KindOffsetOverflow, "cannot write "+path+" as classic TIFF", err)
		}
		w.logger.Info("output exceeds classic TIFF range, rewriting as BigTIFF", "path", path)
		err = w.writeFile(c, path, order, true)
	}
	return err
}

func (w *Writer) writeFile(c *Container, path string, order binary.ByteOrder, big bool) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return app.IOError("failed to create output next to "+path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	s := &session{f: tmp, order: order, big: big, sources: make(map[string]*os.File)}
	defer s.closeSources()

	if err = s.writeContainer(c); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return app.IOError("failed to flush "+tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return app.IOError("failed to close "+tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return app.IOError("failed to move output to "+path, err)
	}
	w.logger.Debug("wrote container", "path", path, "bigtiff", big, "bytes", s.pos)
	return nil
}

// session is the state of one output attempt.
type session struct {
	f       *os.File
	pos     uint64
	order   binary.ByteOrder
	big     bool
	sources map[string]*os.File
}

func (s *session) closeSources() {
	for _, f := range s.sources {
		f.Close()
	}
}

func (s *session) source(path string) (*os.File, error) {
	if path == "" {
		return nil, app.FormatError("directory payload has no source file")
	}
	if f, ok := s.sources[path]; ok {
		return f, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, app.IOError("failed to open payload source "+path, err)
	}
	s.sources[path] = f
	return f, nil
}

func (s *session) slotSize() uint64 {
	if s.big {
		return 8
	}
	return 4
}

func (s *session) checkLimit() error {
	if !s.big && s.pos > classicOffsetLimit {
		return errClassicOverflow
	}
	return nil
}

// write appends b and returns the offset it was written at.
func (s *session) write(b []byte) (uint64, error) {
	start := s.pos
	n, err := s.f.Write(b)
	s.pos += uint64(n)
	if err != nil {
		return 0, app.IOError("failed to write output", err)
	}
	return start, s.checkLimit()
}

// align pads the output to a word boundary.
func (s *session) align() error {
	if s.pos%2 == 1 {
		_, err := s.write([]byte{0})
		return err
	}
	return nil
}

func (s *session) patch(at uint64, b []byte) error {
	if _, err := s.f.WriteAt(b, int64(at)); err != nil {
		return app.IOError("failed to backpatch output", err)
	}
	return nil
}

func (s *session) putOffset(buf []byte, v uint64) {
	if s.big {
		s.order.PutUint64(buf, v)
	} else {
		s.order.PutUint32(buf, uint32(v))
	}
}

func (s *session) writeContainer(c *Container) error {
	marker := types.TIFFByteOrderLittle
	if s.order == binary.BigEndian {
		marker = types.TIFFByteOrderBig
	}

	var header []byte
	var ptrPos uint64
	if s.big {
		header = make([]byte, 16)
		copy(header, marker)
		s.order.PutUint16(header[2:], types.TIFFMagicBig)
		s.order.PutUint16(header[4:], 8)
		ptrPos = 8
	} else {
		header = make([]byte, 8)
		copy(header, marker)
		s.order.PutUint16(header[2:], types.TIFFMagicClassic)
		ptrPos = 4
	}
	if _, err := s.write(header); err != nil {
		return err
	}
	_, err := s.writeChain(c.Directories, ptrPos)
	return err
}

// writeChain writes a directory chain and returns the offset of its first
// directory. When ptrPos is non-zero that position is patched with it.
func (s *session) writeChain(chain []*Directory, ptrPos uint64) (uint64, error) {
	var first uint64
	for i, d := range chain {
		ifdOffset, nextPos, err := s.writeDirectory(d)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			first = ifdOffset
		}
		if ptrPos != 0 {
			buf := make([]byte, s.slotSize())
			s.putOffset(buf, ifdOffset)
			if err := s.patch(ptrPos, buf); err != nil {
				return 0, err
			}
		}
		ptrPos = nextPos
	}
	return first, nil
}

// writeDirectory emits a directory's payloads, out-of-line tag data, the
// IFD record and then its SubIFD chains. It returns the IFD offset and
// the position of its next-directory pointer.
func (s *session) writeDirectory(d *Directory) (uint64, uint64, error) {
	entries := make(map[uint16]*Entry, len(d.Entries))
	for tag, e := range d.Entries {
		entries[tag] = e
	}
	if err := s.writePayloads(d, entries); err != nil {
		return 0, 0, err
	}

	delete(entries, types.TagSubIFD)
	hasSubs := len(d.SubDirectories) > 0
	tags := make([]uint16, 0, len(entries)+1)
	for tag := range entries {
		tags = append(tags, tag)
	}
	if hasSubs {
		tags = append(tags, types.TagSubIFD)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	if !s.big && len(tags) > math.MaxUint16 {
		return 0, 0, app.FormatError("directory has %d entries, too many for classic TIFF", len(tags))
	}

	slot := s.slotSize()
	subType := types.DatatypeIFD
	if s.big {
		subType = types.DatatypeIFD8
	}
	subCount := uint64(len(d.SubDirectories))
	subIndex := -1
	var subArrayPos uint64

	records := make([][]byte, len(tags))
	for i, tag := range tags {
		if tag == types.TagSubIFD {
			subIndex = i
			field := make([]byte, slot)
			if subCount*uint64(subType.Size()) > slot {
				if err := s.align(); err != nil {
					return 0, 0, err
				}
				pos, err := s.write(make([]byte, subCount*uint64(subType.Size())))
				if err != nil {
					return 0, 0, err
				}
				subArrayPos = pos
				s.putOffset(field, pos)
			}
			records[i] = s.record(tag, subType, subCount, field)
			continue
		}

		e := entries[tag]
		if !s.big {
			narrowed, ok := e.narrowed()
			if !ok {
				return 0, 0, errClassicOverflow
			}
			e = narrowed
		}
		data := e.pack(s.order)
		field := make([]byte, slot)
		if uint64(len(data)) <= slot {
			copy(field, data)
		} else {
			if err := s.align(); err != nil {
				return 0, 0, err
			}
			pos, err := s.write(data)
			if err != nil {
				return 0, 0, err
			}
			s.putOffset(field, pos)
		}
		records[i] = s.record(tag, e.Type, e.Len(), field)
	}

	if err := s.align(); err != nil {
		return 0, 0, err
	}
	var ifd []byte
	countSize, entrySize := uint64(2), uint64(types.TIFFClassicEntrySize)
	if s.big {
		countSize, entrySize = 8, types.TIFFBigEntrySize
		ifd = make([]byte, 8)
		s.order.PutUint64(ifd, uint64(len(records)))
	} else {
		ifd = make([]byte, 2)
		s.order.PutUint16(ifd, uint16(len(records)))
	}
	for _, rec := range records {
		ifd = append(ifd, rec...)
	}
	ifd = append(ifd, make([]byte, slot)...)
	ifdOffset, err := s.write(ifd)
	if err != nil {
		return 0, 0, err
	}
	nextPos := ifdOffset + countSize + uint64(len(records))*entrySize

	if hasSubs {
		offsets := make([]uint64, 0, subCount)
		for _, chain := range d.SubDirectories {
			first, err := s.writeChain(chain, 0)
			if err != nil {
				return 0, 0, err
			}
			offsets = append(offsets, first)
		}
		packed := (&Entry{Tag: types.TagSubIFD, Type: subType, Uints: offsets}).pack(s.order)
		at := subArrayPos
		if at == 0 {
			at = ifdOffset + countSize + uint64(subIndex)*entrySize + (entrySize - slot)
		}
		if err := s.patch(at, packed); err != nil {
			return 0, 0, err
		}
	}
	return ifdOffset, nextPos, nil
}

func (s *session) record(tag uint16, dt types.Datatype, count uint64, field []byte) []byte {
	var rec []byte
	if s.big {
		rec = make([]byte, types.TIFFBigEntrySize)
		s.order.PutUint64(rec[4:], count)
	} else {
		rec = make([]byte, types.TIFFClassicEntrySize)
		s.order.PutUint32(rec[4:], uint32(count))
	}
	s.order.PutUint16(rec[0:], tag)
	s.order.PutUint16(rec[2:], uint16(dt))
	copy(rec[len(rec)-len(field):], field)
	return rec
}

// writePayloads copies every offset-addressed payload of d into the
// output and replaces the offset and byte-count entries in entries with
// the new locations. d itself is not modified.
func (s *session) writePayloads(d *Directory, entries map[uint16]*Entry) error {
	for _, offTag := range offsetTagOrder {
		offEntry := entries[offTag]
		if offEntry == nil {
			continue
		}
		countTag := types.OffsetTagPairs[offTag]
		offsets := offEntry.Values()
		chunks := d.Chunks[offTag]

		lengths := make([]uint64, len(offsets))
		if counts := entries[countTag]; counts != nil {
			values := counts.Values()
			if len(values) != len(offsets) {
				return app.FormatError("%s has %d values but %s has %d",
					types.TagName(offTag), len(offsets), types.TagName(countTag), len(values))
			}
			copy(lengths, values)
		} else if !fullyOverridden(chunks, len(offsets)) {
			return app.FormatError("%s without %s", types.TagName(offTag), types.TagName(countTag))
		}

		placed, sizes, err := s.copyTable(d, offsets, lengths, chunks)
		if err != nil {
			return err
		}
		entries[offTag] = s.offsetEntry(offTag, placed)
		entries[countTag] = s.offsetEntry(countTag, sizes)
	}

	for _, tableTag := range types.JPEGTableTags {
		tableEntry := entries[tableTag]
		if tableEntry == nil {
			continue
		}
		offsets := tableEntry.Values()
		chunks := d.Chunks[tableTag]
		lengths := make([]uint64, len(offsets))
		for i, off := range offsets {
			if i < len(chunks) && chunks[i] != nil {
				continue
			}
			n, err := s.jpegTableLength(d, tableTag, off)
			if err != nil {
				return err
			}
			lengths[i] = n
		}
		placed, _, err := s.copyTable(d, offsets, lengths, chunks)
		if err != nil {
			return err
		}
		entries[tableTag] = s.offsetEntry(tableTag, placed)
	}
	return nil
}

func fullyOverridden(chunks [][]byte, n int) bool {
	if len(chunks) < n {
		return false
	}
	for _, c := range chunks[:n] {
		if c == nil {
			return false
		}
	}
	return true
}

// copyTable writes one payload table, taking in-memory chunks where
// present and streaming runs of untouched payloads from the source.
func (s *session) copyTable(d *Directory, offsets, lengths []uint64, chunks [][]byte) ([]uint64, []uint64, error) {
	placed := make([]uint64, len(offsets))
	sizes := append([]uint64(nil), lengths...)

	flush := func(start, end int) error {
		if start >= end {
			return nil
		}
		src, err := s.source(d.Source)
		if err != nil {
			return err
		}
		got, err := CopyPayloads(s.f, src, offsets[start:end], lengths[start:end])
		if err != nil {
			return app.IOError("failed to copy image payloads from "+d.Source, err)
		}
		copy(placed[start:end], got)
		for _, n := range lengths[start:end] {
			s.pos += n
		}
		return s.checkLimit()
	}

	run := 0
	for i := range offsets {
		if i < len(chunks) && chunks[i] != nil {
			if err := flush(run, i); err != nil {
				return nil, nil, err
			}
			pos, err := s.write(chunks[i])
			if err != nil {
				return nil, nil, err
			}
			placed[i] = pos
			sizes[i] = uint64(len(chunks[i]))
			run = i + 1
		}
	}
	if err := flush(run, len(offsets)); err != nil {
		return nil, nil, err
	}
	return placed, sizes, nil
}

// jpegTableLength derives the size of an old-style JPEG table: 64 bytes
// for quantization tables, 16 count bytes plus their sum for Huffman
// tables.
func (s *session) jpegTableLength(d *Directory, tag uint16, offset uint64) (uint64, error) {
	if tag == types.TagJPEGQTables {
		return 64, nil
	}
	src, err := s.source(d.Source)
	if err != nil {
		return 0, err
	}
	counts := make([]byte, 16)
	if _, err := src.ReadAt(counts, int64(offset)); err != nil {
		return 0, app.IOError(fmt.Sprintf("failed to read %s at %d", types.TagName(tag), offset), err)
	}
	total := uint64(16)
	for _, c := range counts {
		total += uint64(c)
	}
	return total, nil
}

func (s *session) offsetEntry(tag uint16, values []uint64) *Entry {
	for _, v := range values {
		if v > math.MaxUint32 {
			return NewLong8s(tag, values...)
		}
	}
	return NewLongs(tag, values...)
}
