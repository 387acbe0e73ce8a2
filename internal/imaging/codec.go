package imaging

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zlib"
	xtiff "golang.org/x/image/tiff"

	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// Codec decodes TIFF directories into rasters and encodes rasters into
// JPEG directories.
type Codec struct {
	// WorkDir holds scratch files for compressions decoded through a
	// standalone TIFF.
	WorkDir string
	Logger  *slog.Logger
}

// NewCodec creates a Codec using workDir for scratch files.
func NewCodec(workDir string, logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{WorkDir: workDir, Logger: logger}
}

// chunkGeometry describes how a directory's payloads tile the image.
type chunkGeometry struct {
	offTag        uint16
	width, height int
	chunkW        int
	chunkH        int
	across        int
}

func geometryOf(d *tiff.Directory) (chunkGeometry, error) {
	g := chunkGeometry{width: int(d.Width()), height: int(d.Height())}
	if g.width == 0 || g.height == 0 {
		return g, app.FormatError("directory has no image dimensions")
	}
	if d.Tiled() {
		tw, _ := d.Uint(types.TagTileWidth)
		th, _ := d.Uint(types.TagTileLength)
		if tw == 0 || th == 0 {
			return g, app.FormatError("tiled directory has no tile size")
		}
		g.offTag, g.chunkW, g.chunkH = types.TagTileOffsets, int(tw), int(th)
	} else {
		rows, ok := d.Uint(types.TagRowsPerStrip)
		if !ok || rows == 0 || int(rows) > g.height {
			rows = uint64(g.height)
		}
		g.offTag, g.chunkW, g.chunkH = types.TagStripOffsets, g.width, int(rows)
	}
	g.across = (g.width + g.chunkW - 1) / g.chunkW
	return g, nil
}

// origin returns the top-left pixel of chunk i.
func (g chunkGeometry) origin(i int) image.Point {
	return image.Pt((i%g.across)*g.chunkW, (i/g.across)*g.chunkH)
}

// Decode reads the full raster of d.
func (c *Codec) Decode(r *tiff.PayloadReader, d *tiff.Directory) (image.Image, error) {
	compression, ok := d.Uint(types.TagCompression)
	if !ok {
		compression = types.CompressionNone
	}
	switch compression {
	case types.CompressionJPEG, types.CompressionNone, types.CompressionAdobeDeflate, types.CompressionDeflate:
	default:
		return c.decodeStandalone(d)
	}

	g, err := geometryOf(d)
	if err != nil {
		return nil, err
	}
	canvas := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	for i := 0; i < r.Count(d, g.offTag); i++ {
		data, err := r.Read(d, g.offTag, i)
		if err != nil {
			return nil, err
		}
		at := g.origin(i)
		if at.Y >= g.height {
			break
		}
		chunk, err := c.DecodeChunk(d, data, min(g.chunkH, g.height-at.Y), g.chunkW)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		b := chunk.Bounds()
		draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(b.Size())}, chunk, b.Min, draw.Src)
	}
	return canvas, nil
}

// DecodeChunk decodes one strip or tile of d. rows bounds the rows
// present in a short final strip.
func (c *Codec) DecodeChunk(d *tiff.Directory, data []byte, rows, cols int) (image.Image, error) {
	compression, ok := d.Uint(types.TagCompression)
	if !ok {
		compression = types.CompressionNone
	}
	photometric, _ := d.Uint(types.TagPhotometric)

	switch compression {
	case types.CompressionJPEG:
		stream := data
		if tables := d.Get(types.TagJPEGTables); tables != nil && len(tables.Bytes) > 4 && len(data) > 2 {
			stream = make([]byte, 0, len(tables.Bytes)+len(data))
			stream = append(stream, tables.Bytes[:len(tables.Bytes)-2]...)
			stream = append(stream, data[2:]...)
		}
		img, err := jpeg.Decode(bytes.NewReader(stream))
		if err != nil {
			return nil, app.NewError(app.KindFormat, "failed to decode JPEG payload", err)
		}
		if yc, ok := img.(*image.YCbCr); ok && photometric == types.PhotometricRGB {
			return ycbcrAsRGB(yc), nil
		}
		return img, nil
	case types.CompressionAdobeDeflate, types.CompressionDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, app.NewError(app.KindFormat, "failed to open deflate payload", err)
		}
		defer zr.Close()
		raw, err := io.ReadAll(zr)
		if err != nil {
			return nil, app.NewError(app.KindFormat, "failed to inflate payload", err)
		}
		return decodeRaw(d, raw, rows, cols)
	case types.CompressionNone:
		return decodeRaw(d, data, rows, cols)
	}
	return nil, app.UnsupportedFormatError("compression %d cannot be decoded per chunk", compression)
}

// decodeRaw interprets 8-bit interleaved samples.
func decodeRaw(d *tiff.Directory, raw []byte, rows, cols int) (image.Image, error) {
	spp, ok := d.Uint(types.TagSamplesPerPixel)
	if !ok {
		spp = 1
	}
	if bps, ok := d.Uint(types.TagBitsPerSample); ok && bps != 8 {
		return nil, app.UnsupportedFormatError("%d bits per sample", bps)
	}
	stride := cols * int(spp)
	if len(raw) < stride*rows {
		return nil, app.FormatError("payload holds %d bytes, need %d", len(raw), stride*rows)
	}
	if predictor, _ := d.Uint(types.TagPredictor); predictor == 2 {
		for y := 0; y < rows; y++ {
			row := raw[y*stride : (y+1)*stride]
			for x := int(spp); x < stride; x++ {
				row[x] += row[x-int(spp)]
			}
		}
	}
	photometric, _ := d.Uint(types.TagPhotometric)
	out := image.NewRGBA(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			src := raw[y*stride+x*int(spp):]
			p := out.Pix[out.PixOffset(x, y):]
			if spp < 3 {
				v := src[0]
				if photometric == types.PhotometricMinIsWhite {
					v = 0xff - v
				}
				p[0], p[1], p[2] = v, v, v
			} else {
				p[0], p[1], p[2] = src[0], src[1], src[2]
			}
			p[3] = 0xff
		}
	}
	return out, nil
}

// decodeStandalone writes d alone into a scratch TIFF and decodes it
// with the general TIFF decoder.
func (c *Codec) decodeStandalone(d *tiff.Directory) (image.Image, error) {
	dir, err := os.MkdirTemp(c.WorkDir, "decode-*")
	if err != nil {
		return nil, app.IOError("failed to create scratch directory", err)
	}
	defer os.RemoveAll(dir)

	single := d.Clone()
	single.SubDirectories = nil
	path := filepath.Join(dir, "image.tiff")
	cont := &tiff.Container{ByteOrder: binary.LittleEndian, Directories: []*tiff.Directory{single}}
	if err := tiff.NewWriter(c.Logger).Write(cont, path, tiff.WriteOptions{}); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, app.IOError("failed to open scratch image", err)
	}
	defer f.Close()
	img, err := xtiff.Decode(f)
	if err != nil {
		return nil, app.NewError(app.KindUnsupportedFormat, "failed to decode directory", err)
	}
	return img, nil
}

// EncodeJPEG encodes img as a baseline JPEG.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeChunk encodes a replacement strip or tile for a directory with
// the given photometric interpretation. RGB directories receive
// untransformed components.
func EncodeChunk(img image.Image, photometric uint64, quality int) ([]byte, error) {
	if photometric == types.PhotometricRGB {
		return EncodeJPEG(rgbAsYCbCr(img), quality)
	}
	return EncodeJPEG(img, quality)
}

// JPEGDirectory builds a single-strip YCbCr JPEG directory for img.
func JPEGDirectory(img image.Image, quality int) (*tiff.Directory, []byte, error) {
	data, err := EncodeJPEG(img, quality)
	if err != nil {
		return nil, nil, err
	}
	return jpegStripDirectory(img, data), data, nil
}

// RestartJPEGDirectory is JPEGDirectory with a restart marker after
// every MCU row of the strip.
func RestartJPEGDirectory(img image.Image, quality int) (*tiff.Directory, []byte, error) {
	data, err := EncodeRestartJPEG(img, quality)
	if err != nil {
		return nil, nil, err
	}
	return jpegStripDirectory(img, data), data, nil
}

func jpegStripDirectory(img image.Image, data []byte) *tiff.Directory {
	b := img.Bounds()
	d := tiff.NewStripDirectory(uint64(b.Dx()), uint64(b.Dy()), uint64(b.Dy()), [][]byte{data})
	d.Set(tiff.NewShorts(types.TagBitsPerSample, 8, 8, 8))
	d.Set(tiff.NewShorts(types.TagCompression, types.CompressionJPEG))
	d.Set(tiff.NewShorts(types.TagPhotometric, types.PhotometricYCbCr))
	d.Set(tiff.NewShorts(types.TagSamplesPerPixel, 3))
	d.Set(tiff.NewShorts(types.TagPlanarConfig, 1))
	d.Set(tiff.NewShorts(types.TagYCbCrSubsampling, 2, 2))
	return d
}

// ycbcrAsRGB reads JPEG components as R, G and B without a color
// transform.
func ycbcrAsRGB(m *image.YCbCr) *image.RGBA {
	b := m.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			yi, ci := m.YOffset(x, y), m.COffset(x, y)
			p := out.Pix[out.PixOffset(x-b.Min.X, y-b.Min.Y):]
			p[0], p[1], p[2], p[3] = m.Y[yi], m.Cb[ci], m.Cr[ci], 0xff
		}
	}
	return out
}

// rgbAsYCbCr stores R, G and B as the three JPEG components.
func rgbAsYCbCr(img image.Image) *image.YCbCr {
	rgba := toRGBA(img)
	b := rgba.Bounds()
	out := image.NewYCbCr(b, image.YCbCrSubsampleRatio444)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			p := rgba.Pix[rgba.PixOffset(x, y):]
			yi, ci := out.YOffset(x, y), out.COffset(x, y)
			out.Y[yi], out.Cb[ci], out.Cr[ci] = p[0], p[1], p[2]
		}
	}
	return out
}
