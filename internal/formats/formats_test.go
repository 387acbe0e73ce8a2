package formats

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/deploymenttheory/go-wsi-deid/internal/imaging"
	"github.com/deploymenttheory/go-wsi-deid/internal/interfaces"
	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

var (
	gray  = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	green = color.RGBA{R: 0x10, G: 0xc0, B: 0x20, A: 0xff}
)

// createTestTiledDirectory builds a tiled directory whose tiles hold
// distinct filler bytes. The payloads are never decoded.
func createTestTiledDirectory(width, height, tile uint64, desc string) *tiff.Directory {
	across := (width + tile - 1) / tile
	down := (height + tile - 1) / tile
	n := across * down
	tiles := make([][]byte, n)
	counts := make([]uint64, n)
	for i := range tiles {
		tiles[i] = bytes.Repeat([]byte{byte(i + 1)}, 48+i)
		counts[i] = uint64(len(tiles[i]))
	}
	d := tiff.NewDirectory("")
	d.Set(tiff.NewLongs(types.TagImageWidth, width))
	d.Set(tiff.NewLongs(types.TagImageLength, height))
	d.Set(tiff.NewShorts(types.TagTileWidth, tile))
	d.Set(tiff.NewShorts(types.TagTileLength, tile))
	d.Set(tiff.NewShorts(types.TagCompression, types.CompressionJPEG))
	d.Set(tiff.NewShorts(types.TagPhotometric, types.PhotometricYCbCr))
	d.Set(tiff.NewLongs(types.TagTileOffsets, make([]uint64, n)...))
	d.Set(tiff.NewLongs(types.TagTileByteCounts, counts...))
	d.Chunks = map[uint16][][]byte{types.TagTileOffsets: tiles}
	if desc != "" {
		d.SetASCII(types.TagImageDescription, desc)
	}
	return d
}

// createTestImageDirectory builds a JPEG strip directory from a solid
// image.
func createTestImageDirectory(t *testing.T, w, h int, desc string) *tiff.Directory {
	t.Helper()
	d, _, err := imaging.JPEGDirectory(solidImage(w, h, gray), 90)
	require.NoError(t, err)
	if desc != "" {
		d.SetASCII(types.TagImageDescription, desc)
	}
	return d
}

// writeTestSlide writes c to dir/name and opens it.
func writeTestSlide(t *testing.T, c *tiff.Container, name string) *interfaces.Slide {
	t.Helper()
	if c.ByteOrder == nil {
		c.ByteOrder = binary.LittleEndian
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, tiff.Write(c, path, tiff.WriteOptions{}))
	slide, err := Open("", []string{path}, nil)
	require.NoError(t, err)
	return slide
}

// tileDigests hashes every tile payload of d.
func tileDigests(t *testing.T, d *tiff.Directory) [][32]byte {
	t.Helper()
	r := tiff.NewPayloadReader()
	defer r.Close()
	payloads, err := r.ReadAll(d, types.TagTileOffsets)
	require.NoError(t, err)
	sums := make([][32]byte, len(payloads))
	for i, p := range payloads {
		sums[i] = blake3.Sum256(p)
	}
	return sums
}

// testPlan builds a plan from the handler defaults merged with extra.
func testPlan(t *testing.T, h interfaces.RedactionHandler, slide *interfaces.Slide, title string, extra *policy.RedactionList) *interfaces.Plan {
	t.Helper()
	src, err := h.Metadata(slide)
	require.NoError(t, err)
	deid := policy.DeidInfo{Fields: map[string]string{"Batch": "7"}}
	list := h.StandardRedactions(src, title, deid)
	if extra != nil {
		list = policy.Merge(list, extra)
	}
	return &interfaces.Plan{List: list, Title: title, Deid: deid, WorkDir: t.TempDir(), JPEGQuality: 90, Workers: 2}
}

func readOutput(t *testing.T, paths []string) *tiff.Container {
	t.Helper()
	require.Len(t, paths, 1)
	c, err := tiff.Read(paths[0])
	require.NoError(t, err)
	return c
}

func TestDetectContainer(t *testing.T) {
	ndpi := tiff.NewDirectory("")
	ndpi.Set(tiff.NewLongs(types.TagNDPIFormatFlag, 1))

	tests := []struct {
		name string
		dir  *tiff.Directory
		want types.Format
	}{
		{"ndpi", ndpi, types.FormatHamamatsu},
		{"aperio", createTestTiledDirectory(16, 16, 16, "Aperio Image Library v12\n16x16|AppMag = 20"), types.FormatAperio},
		{"philips", createTestTiledDirectory(16, 16, 16, `<?xml version="1.0"?><DataObject ObjectType="DPUfsImport"></DataObject>`), types.FormatPhilips},
		{"ome", createTestTiledDirectory(16, 16, 16, `<?xml version="1.0"?><OME xmlns="x"></OME>`), types.FormatOMETIFF},
		{"plain", createTestTiledDirectory(16, 16, 16, "scanner output"), types.FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &tiff.Container{Directories: []*tiff.Directory{tt.dir}}
			assert.Equal(t, tt.want, DetectContainer(c))
		})
	}
	assert.Equal(t, types.FormatUnknown, DetectContainer(&tiff.Container{}))
}

func TestIsDICOMFile(t *testing.T) {
	dir := t.TempDir()
	withMagic := filepath.Join(dir, "series-1")
	require.NoError(t, os.WriteFile(withMagic, append(make([]byte, 128), []byte("DICM....")...), 0o644))
	plain := filepath.Join(dir, "slide.tif")
	require.NoError(t, os.WriteFile(plain, []byte("II*\x00"), 0o644))

	assert.True(t, IsDICOMFile(withMagic))
	assert.True(t, IsDICOMFile(filepath.Join(dir, "missing.DCM")))
	assert.False(t, IsDICOMFile(plain))
}

func TestOpenRejectsMultipleTIFFs(t *testing.T) {
	_, err := Open("x", []string{"a.tif", "b.tif"}, nil)
	require.Error(t, err)
	_, err = Open("x", nil, nil)
	require.Error(t, err)
}

func TestTagKey(t *testing.T) {
	tests := []struct {
		key  string
		tag  uint16
		dir  int
		want bool
	}{
		{"internal;openslide;tiff.Software", types.TagSoftware, 0, true},
		{"internal;tiff;software", types.TagSoftware, 0, true},
		{"internal;openslide;tiff.DateTime:2", types.TagDateTime, 2, true},
		{"internal;openslide;tiff.Artist:x", 0, 0, false},
		{"internal;openslide;aperio.Title", 0, 0, false},
		{"internal;openslide;tiff.NoSuchTag", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			tag, dir, ok := tagKey(tt.key)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, tt.tag, tag)
				assert.Equal(t, tt.dir, dir)
			}
		})
	}
}

func TestRedactTags(t *testing.T) {
	d0 := tiff.NewDirectory("")
	d0.SetASCII(types.TagArtist, "Dr. Who")
	d0.SetASCII(types.TagDateTime, "2021:05:06 10:11:12")
	d0.SetASCII(types.TagDocumentName, "patient-42")
	d1 := tiff.NewDirectory("")
	d1.SetASCII(types.TagArtist, "Dr. Who")
	c := &tiff.Container{Directories: []*tiff.Directory{d0, d1}}

	list := policy.NewRedactionList()
	list.Metadata["internal;openslide;tiff.Artist"] = policy.AutomaticRemoval()
	list.Metadata["internal;openslide;tiff.DateTime"] = policy.System(policy.Str("2021:01:01 10:11:12"))
	list.Metadata["internal;openslide;tiff.HostComputer"] = policy.AutomaticRemoval()

	RedactTags(c, list, "TITLE")
	AddDeidSoftware(c, "WSI DeID test")

	assert.False(t, d0.Has(types.TagArtist))
	assert.True(t, d1.Has(types.TagArtist), "unsuffixed keys only touch directory 0")
	assert.Equal(t, "2021:01:01 10:11:12", d0.ASCII(types.TagDateTime))
	assert.Equal(t, "TITLE", d0.ASCII(types.TagDocumentName))
	assert.False(t, d0.Has(types.TagHostComputer))
	assert.Equal(t, "WSI DeID test", d0.ASCII(types.TagSoftware))
}

func TestClassifyDirectory(t *testing.T) {
	label := createTestImageDirectory(t, 8, 8, "Aperio Image Library\nlabel 8x8")
	macro := createTestImageDirectory(t, 8, 8, "")
	macro.Set(tiff.NewLongs(types.TagNewSubfileType, types.SubfileTypeMacro))
	thumb := createTestImageDirectory(t, 8, 8, "Aperio Image Library\n64x64 -> 8x8")
	level := createTestTiledDirectory(32, 32, 16, "")

	assert.Equal(t, types.RolePrimary, ClassifyDirectory(level, 0, types.FormatAperio).Kind)
	assert.Equal(t, types.RoleThumbnail, ClassifyDirectory(thumb, 1, types.FormatAperio).Kind)
	assert.Equal(t, types.RoleLabel, ClassifyDirectory(label, 3, types.FormatAperio).Kind)
	assert.Equal(t, types.RoleMacro, ClassifyDirectory(macro, 4, types.FormatOMETIFF).Kind)
	assert.Equal(t, types.RolePrimary, ClassifyDirectory(level, 2, types.FormatOMETIFF).Kind)

	philipsMacro := createTestImageDirectory(t, 8, 8, "Macro")
	assert.Equal(t, types.RoleMacro, ClassifyDirectory(philipsMacro, 2, types.FormatPhilips).Kind)

	lens := createTestImageDirectory(t, 8, 8, "")
	lens.Set(&tiff.Entry{Tag: types.TagNDPISourceLens, Type: types.DatatypeFloat, Floats: []float64{-2}})
	role := ClassifyDirectory(lens, 2, types.FormatHamamatsu)
	assert.Equal(t, "nonempty", role.AssociatedKey())
}
