package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

var white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

func TestAddTitleIsDeterministic(t *testing.T) {
	titler := DefaultTitler()
	opts := DefaultTitleOptions()

	first, layout, err := titler.AddTitle(nil, "ABC123", opts)
	require.NoError(t, err)
	second, again, err := titler.AddTitle(nil, "ABC123", opts)
	require.NoError(t, err)

	assert.Equal(t, layout, again)
	assert.Equal(t, first.Pix, second.Pix)
	assert.LessOrEqual(t, layout.Iterations, 3)
	assert.GreaterOrEqual(t, first.Bounds().Dx(), 384)
	assert.Equal(t, first.Bounds().Dx(), first.Bounds().Dy())
}

func TestAddTitleKeepsSource(t *testing.T) {
	src := solid(500, 200, color.RGBA{R: 10, G: 200, B: 30, A: 0xff})
	opts := DefaultTitleOptions()
	opts.Square = false

	out, layout, err := DefaultTitler().AddTitle(src, "SLIDE-1", opts)
	require.NoError(t, err)
	assert.Equal(t, 500, out.Bounds().Dx())
	assert.Equal(t, 200+layout.TitleHeight, out.Bounds().Dy())
	assert.Equal(t, src.RGBAAt(10, 10), out.RGBAAt(10, 10+layout.TitleHeight))
}

func TestAddTitleEmptyReturnsSource(t *testing.T) {
	src := solid(20, 10, white)
	out, _, err := DefaultTitler().AddTitle(src, "", DefaultTitleOptions())
	require.NoError(t, err)
	assert.Equal(t, src.Pix, out.Pix)

	none, _, err := DefaultTitler().AddTitle(nil, "", DefaultTitleOptions())
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRedactAreaZeroAreaLeavesRaster(t *testing.T) {
	src := solid(32, 32, white)
	line := orb.Polygon{{{0, 0}, {16, 16}, {31, 31}, {0, 0}}}
	out := RedactArea(src, []orb.Polygon{line})
	assert.Equal(t, src.Pix, out.Pix)
}

func TestRedactAreaEvenOdd(t *testing.T) {
	src := solid(40, 40, white)
	outer := orb.Ring{{0, 0}, {40, 0}, {40, 40}, {0, 40}, {0, 0}}
	hole := orb.Ring{{10, 10}, {30, 10}, {30, 30}, {10, 30}, {10, 10}}
	out := RedactArea(src, []orb.Polygon{{outer, hole}})

	black := color.RGBA{A: 0xff}
	assert.Equal(t, black, out.RGBAAt(2, 2))
	assert.Equal(t, black, out.RGBAAt(39, 39))
	assert.Equal(t, white, out.RGBAAt(20, 20))
}

func TestPolygonsFromFeatures(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}))
	fc.Append(geojson.NewFeature(orb.MultiPolygon{
		{{{0, 0}, {2, 0}, {2, 2}, {0, 0}}},
		{{{5, 5}, {6, 5}, {6, 6}, {5, 5}}},
	}))
	fc.Append(geojson.NewFeature(orb.Point{1, 1}))
	assert.Len(t, Polygons(fc), 3)

	scaled := ScalePolygons(Polygons(fc)[:1], 0.5, 0.5, 1, 0)
	assert.Equal(t, orb.Point{-0.5, 0.5}, scaled[0][0][2])
}

func TestRedactTopLeftCorner(t *testing.T) {
	src := solid(200, 100, white)
	black := color.RGBA{A: 0xff}

	out := RedactTopLeftCorner(src, 50, 20)
	assert.Equal(t, black, out.RGBAAt(99, 19))
	assert.Equal(t, white, out.RGBAAt(100, 0))
	assert.Equal(t, white, out.RGBAAt(0, 20))

	square := RedactTopLeftCorner(src, 0, 0)
	assert.Equal(t, black, square.RGBAAt(99, 99))
	assert.Equal(t, white, square.RGBAAt(100, 0))
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#ff8000")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0xff, G: 0x80, A: 0xff}, c)

	c, err = ParseHexColor("fff")
	require.NoError(t, err)
	assert.Equal(t, white, c)

	_, err = ParseHexColor("#12")
	assert.Error(t, err)
}

func TestJPEGDirectoryRoundTrip(t *testing.T) {
	src := solid(64, 48, color.RGBA{R: 120, G: 120, B: 120, A: 0xff})
	d, data, err := JPEGDirectory(src, 90)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	path := filepath.Join(t.TempDir(), "jpeg.tiff")
	require.NoError(t, tiff.Write(&tiff.Container{Directories: []*tiff.Directory{d}}, path, tiff.WriteOptions{}))
	c, err := tiff.Read(path)
	require.NoError(t, err)
	require.Len(t, c.Directories, 1)

	compression, _ := c.Directories[0].Uint(types.TagCompression)
	assert.Equal(t, uint64(types.CompressionJPEG), compression)

	r := tiff.NewPayloadReader()
	defer r.Close()
	img, err := NewCodec(t.TempDir(), nil).Decode(r, c.Directories[0])
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
	got := color.RGBAModel.Convert(img.At(30, 30)).(color.RGBA)
	assert.InDelta(t, 120, int(got.R), 4)
}

func TestDecodeUncompressedStrips(t *testing.T) {
	raw := make([]byte, 4*3*3)
	for i := range raw {
		raw[i] = byte(i)
	}
	d := tiff.NewStripDirectory(4, 3, 2, [][]byte{raw[:24], raw[24:]})
	d.Set(tiff.NewShorts(types.TagSamplesPerPixel, 3))
	d.Set(tiff.NewShorts(types.TagBitsPerSample, 8, 8, 8))
	d.Set(tiff.NewShorts(types.TagPhotometric, types.PhotometricRGB))

	r := tiff.NewPayloadReader()
	defer r.Close()
	img, err := NewCodec(t.TempDir(), nil).Decode(r, d)
	require.NoError(t, err)
	rgba := img.(*image.RGBA)
	assert.Equal(t, color.RGBA{R: 27, G: 28, B: 29, A: 0xff}, rgba.RGBAAt(1, 2))
}

func TestRGBComponentSwap(t *testing.T) {
	src := solid(8, 8, color.RGBA{R: 200, G: 10, B: 90, A: 0xff})
	yc := rgbAsYCbCr(src)
	back := ycbcrAsRGB(yc)
	assert.Equal(t, src.Pix, back.Pix)
}

func countRestarts(data []byte) int {
	n := 0
	for i := 0; i+1 < len(data); i++ {
		if data[i] == 0xFF && data[i+1] >= jpegRST0 && data[i+1] <= jpegRST0+7 {
			n++
		}
	}
	return n
}

func TestEncodeRestartJPEG(t *testing.T) {
	src := solid(40, 40, white)
	dark := color.RGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
	for y := 16; y < 40; y++ {
		for x := 0; x < 40; x++ {
			src.SetRGBA(x, y, dark)
		}
	}

	data, err := EncodeRestartJPEG(src, 90)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte{0xFF, jpegDRI, 0x00, 0x04, 0x00, 0x03}))
	assert.Equal(t, 2, countRestarts(data))
	assert.Equal(t, []byte{0xFF, jpegEOI}, data[len(data)-2:])

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 40), img.Bounds())
	top := color.RGBAModel.Convert(img.At(20, 4)).(color.RGBA)
	assert.InDelta(t, 0xff, int(top.R), 6)
	bottom := color.RGBAModel.Convert(img.At(20, 36)).(color.RGBA)
	assert.InDelta(t, 0x20, int(bottom.R), 6)
}

func TestEncodeRestartJPEGGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 20, 20))
	for i := range src.Pix {
		src.Pix[i] = 0x90
	}
	data, err := EncodeRestartJPEG(src, 90)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte{0xFF, jpegDRI, 0x00, 0x04, 0x00, 0x03}))
	assert.Equal(t, 2, countRestarts(data))

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 20), img.Bounds())
	got := color.GrayModel.Convert(img.At(10, 18)).(color.Gray)
	assert.InDelta(t, 0x90, int(got.Y), 4)
}

func TestEncodeRestartJPEGRejectsEmptyImage(t *testing.T) {
	_, err := EncodeRestartJPEG(image.NewRGBA(image.Rect(0, 0, 0, 4)), 90)
	assert.Error(t, err)
}

func TestRestartJPEGDirectory(t *testing.T) {
	d, data, err := RestartJPEGDirectory(solid(32, 32, white), 90)
	require.NoError(t, err)
	assert.Equal(t, uint64(32), d.Width())
	assert.Equal(t, uint64(32), d.Height())
	compression, _ := d.Uint(types.TagCompression)
	assert.Equal(t, uint64(types.CompressionJPEG), compression)
	assert.Equal(t, 1, countRestarts(data))
}
