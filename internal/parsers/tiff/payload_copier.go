package tiff

import (
	"fmt"
	"io"
)

// CopyChunkSize bounds each read when streaming payloads between files.
const CopyChunkSize = 1 << 20

// CopyPayloads streams each (offset, length) range of src to the current
// end of dst in CopyChunkSize pieces and returns where each range landed.
func CopyPayloads(dst io.WriteSeeker, src io.ReaderAt, offsets, lengths []uint64) ([]uint64, error) {
	if len(offsets) != len(lengths) {
		return nil, fmt.Errorf("payload table mismatch: %d offsets, %d lengths", len(offsets), len(lengths))
	}
	pos, err := dst.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("failed to locate destination position: %w", err)
	}

	buf := make([]byte, CopyChunkSize)
	placed := make([]uint64, len(offsets))
	for i, off := range offsets {
		placed[i] = uint64(pos)
		remaining := lengths[i]
		for remaining > 0 {
			n := min(remaining, uint64(len(buf)))
			read, err := src.ReadAt(buf[:n], int64(off))
			if uint64(read) != n {
				if err == nil {
					err = io.ErrUnexpectedEOF
				}
				return nil, fmt.Errorf("failed to read payload %d at offset %d: %w", i, off, err)
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("failed to write payload %d: %w", i, err)
			}
			off += n
			remaining -= n
			pos += int64(n)
		}
	}
	return placed, nil
}
