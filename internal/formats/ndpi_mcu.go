package formats

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// JPEG markers consulted by the MCU scan.
const (
	markerPrefix = 0xFF
	markerSOI    = 0xD8
	markerSOS    = 0xDA
	markerRST0   = 0xD0
	markerRST7   = 0xD7
)

// ScanMCUStarts returns the offsets, relative to the start of a JPEG
// stream, where entropy-coded restart intervals begin: the first byte
// after the SOS header, then the byte after each RSTn marker.
func ScanMCUStarts(jpeg []byte) ([]uint64, error) {
	if len(jpeg) < 4 || jpeg[0] != markerPrefix || jpeg[1] != markerSOI {
		return nil, app.FormatError("stream does not start with a JPEG SOI marker")
	}
	pos := 2
	for {
		for pos < len(jpeg) && jpeg[pos] == markerPrefix && pos+1 < len(jpeg) && jpeg[pos+1] == markerPrefix {
			pos++
		}
		if pos+4 > len(jpeg) || jpeg[pos] != markerPrefix {
			return nil, app.FormatError("malformed JPEG segment at offset %d", pos)
		}
		marker := jpeg[pos+1]
		length := int(binary.BigEndian.Uint16(jpeg[pos+2:]))
		if marker == markerSOS {
			pos += 2 + length
			break
		}
		pos += 2 + length
	}
	if pos > len(jpeg) {
		return nil, app.FormatError("JPEG scan header runs past the stream")
	}

	starts := []uint64{uint64(pos)}
	for i := pos; i+1 < len(jpeg); i++ {
		if jpeg[i] != markerPrefix {
			continue
		}
		if m := jpeg[i+1]; m >= markerRST0 && m <= markerRST7 {
			starts = append(starts, uint64(i+2))
			i++
		}
	}
	return starts, nil
}
