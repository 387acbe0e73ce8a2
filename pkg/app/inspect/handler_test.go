package inspect

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

func createTestSlide(t *testing.T) string {
	t.Helper()
	level := tiff.NewDirectory("")
	level.Set(tiff.NewLongs(types.TagImageWidth, 256))
	level.Set(tiff.NewLongs(types.TagImageLength, 256))
	level.Set(tiff.NewShorts(types.TagTileWidth, 256))
	level.Set(tiff.NewShorts(types.TagTileLength, 256))
	level.Set(tiff.NewShorts(types.TagCompression, types.CompressionJPEG))
	level.Set(tiff.NewLongs(types.TagTileOffsets, 0))
	level.Set(tiff.NewLongs(types.TagTileByteCounts, 16))
	level.Chunks = map[uint16][][]byte{types.TagTileOffsets: {bytes.Repeat([]byte{1}, 16)}}
	level.SetASCII(types.TagImageDescription,
		"Aperio Image Library v12.0.5\n256x256 [0,0 256x256] (256x256) JPEG/RGB Q=70|AppMag = 20|ScanScope ID = SS9")

	path := filepath.Join(t.TempDir(), "slide.svs")
	c := &tiff.Container{ByteOrder: binary.LittleEndian, Directories: []*tiff.Directory{level}}
	require.NoError(t, tiff.Write(c, path, tiff.WriteOptions{}))
	return path
}

func TestHandle(t *testing.T) {
	path := createTestSlide(t)

	tests := []struct {
		name     string
		request  *Request
		wantErr  bool
		validate func(*testing.T, *Response)
	}{
		{
			name:    "summary",
			request: &Request{Paths: []string{path}},
			validate: func(t *testing.T, resp *Response) {
				assert.Equal(t, "aperio", resp.Format)
				assert.Equal(t, "SS9", resp.Model)
				assert.Equal(t, "20", resp.Metadata["openslide"]["aperio.AppMag"])
				require.NotNil(t, resp.Container)
				require.Len(t, resp.Container.Directories, 1)
				assert.Equal(t, uint64(256), resp.Container.Directories[0].Width)
				assert.Empty(t, resp.Container.Directories[0].Tags)
			},
		},
		{
			name:    "with tags",
			request: &Request{Paths: []string{path}, Tags: true},
			validate: func(t *testing.T, resp *Response) {
				assert.NotEmpty(t, resp.Container.Directories[0].Tags)
			},
		},
		{
			name:    "no paths",
			request: &Request{},
			wantErr: true,
		},
		{
			name:    "missing file",
			request: &Request{Paths: []string{filepath.Join(t.TempDir(), "none.svs")}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Handle(app.NewContext(), tt.request)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, resp)
		})
	}
}

func TestFormatOutput(t *testing.T) {
	resp, err := Handle(app.NewContext(), &Request{Paths: []string{createTestSlide(t)}, Tags: true})
	require.NoError(t, err)

	var table bytes.Buffer
	require.NoError(t, FormatOutput(&table, resp, "table"))
	assert.Contains(t, table.String(), "Format: aperio")
	assert.Contains(t, table.String(), "TIFF, little-endian, 1 directories")
	assert.Contains(t, table.String(), "ImageDescription")
	assert.Contains(t, table.String(), "openslide;aperio.AppMag")

	var js bytes.Buffer
	require.NoError(t, FormatOutput(&js, resp, "json"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "SS9", decoded["model"])

	assert.Error(t, FormatOutput(&bytes.Buffer{}, resp, "csv"))
}
