package imaging

import (
	"encoding/binary"
	"image"

	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// JPEG markers spliced by EncodeRestartJPEG.
const (
	jpegSOF0 = 0xC0
	jpegSOS  = 0xDA
	jpegDRI  = 0xDD
	jpegRST0 = 0xD0
	jpegEOI  = 0xD9
)

// EncodeRestartJPEG encodes img as a baseline JPEG carrying a restart
// marker after every MCU row. Each row is encoded on its own with the
// same tables, and the entropy-coded rows are joined under a single
// header whose DRI interval is one row of MCUs.
func EncodeRestartJPEG(img image.Image, quality int) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 || b.Dx() > 0xFFFF || b.Dy() > 0xFFFF {
		return nil, app.NewError(app.KindInvalidInput, "image size outside JPEG limits", nil)
	}

	var sub func(r image.Rectangle) image.Image
	mcu := 16
	if gray, ok := img.(*image.Gray); ok {
		mcu = 8
		sub = gray.SubImage
	} else {
		rgba := toRGBA(img)
		b = rgba.Bounds()
		sub = rgba.SubImage
	}
	interval := (b.Dx() + mcu - 1) / mcu

	var out []byte
	row := 0
	for y := b.Min.Y; y < b.Max.Y; y += mcu {
		band := image.Rect(b.Min.X, y, b.Max.X, min(y+mcu, b.Max.Y))
		data, err := EncodeJPEG(sub(band), quality)
		if err != nil {
			return nil, err
		}
		sos, err := scanStart(data)
		if err != nil {
			return nil, err
		}
		if row == 0 {
			if out, err = restartHeader(data[:sos], b.Dy(), interval); err != nil {
				return nil, err
			}
		} else {
			out = append(out, 0xFF, byte(jpegRST0+(row-1)%8))
		}
		out = append(out, data[sos:len(data)-2]...)
		row++
	}
	return append(out, 0xFF, jpegEOI), nil
}

// scanStart returns the offset of the entropy-coded data following the
// SOS segment of a complete JPEG stream.
func scanStart(data []byte) (int, error) {
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return 0, app.FormatError("malformed JPEG segment at offset %d", pos)
		}
		marker := data[pos+1]
		pos += 2 + int(binary.BigEndian.Uint16(data[pos+2:]))
		if marker == jpegSOS {
			if pos > len(data)-2 {
				break
			}
			return pos, nil
		}
	}
	return 0, app.FormatError("JPEG stream has no scan")
}

// restartHeader copies header with the frame height set and a DRI
// segment inserted ahead of the scan header.
func restartHeader(header []byte, height, interval int) ([]byte, error) {
	out := make([]byte, 0, len(header)+6)
	out = append(out, header[:2]...)
	pos := 2
	for pos+4 <= len(header) {
		marker := header[pos+1]
		end := pos + 2 + int(binary.BigEndian.Uint16(header[pos+2:]))
		if end > len(header) {
			break
		}
		segment := append([]byte(nil), header[pos:end]...)
		switch marker {
		case jpegSOF0:
			binary.BigEndian.PutUint16(segment[5:], uint16(height))
		case jpegSOS:
			out = append(out, 0xFF, jpegDRI, 0, 4)
			out = binary.BigEndian.AppendUint16(out, uint16(interval))
		}
		out = append(out, segment...)
		if marker == jpegSOS {
			return out, nil
		}
		pos = end
	}
	return nil, app.FormatError("JPEG header has no scan")
}
