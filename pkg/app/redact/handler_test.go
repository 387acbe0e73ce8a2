package redact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-wsi-deid/internal/imaging"
	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// createTestSlide writes a single-level Aperio file with a label.
func createTestSlide(t *testing.T, dir string) string {
	t.Helper()
	level := tiff.NewDirectory("")
	level.Set(tiff.NewLongs(types.TagImageWidth, 256))
	level.Set(tiff.NewLongs(types.TagImageLength, 256))
	level.Set(tiff.NewShorts(types.TagTileWidth, 256))
	level.Set(tiff.NewShorts(types.TagTileLength, 256))
	level.Set(tiff.NewShorts(types.TagCompression, types.CompressionJPEG))
	level.Set(tiff.NewLongs(types.TagTileOffsets, 0))
	level.Set(tiff.NewLongs(types.TagTileByteCounts, 64))
	level.Chunks = map[uint16][][]byte{types.TagTileOffsets: {bytes.Repeat([]byte{7}, 64)}}
	level.SetASCII(types.TagImageDescription,
		"Aperio Image Library v12.0.5\n256x256 [0,0 256x256] (256x256) JPEG/RGB Q=70|AppMag = 20|Filename = S-22|User = tech")

	label, _, err := imaging.JPEGDirectory(image.NewRGBA(image.Rect(0, 0, 40, 20)), 90)
	require.NoError(t, err)
	label.SetASCII(types.TagImageDescription, "Aperio Image Library v12.0.5\nlabel 40x20")

	path := filepath.Join(dir, "S-22.svs")
	c := &tiff.Container{ByteOrder: binary.LittleEndian, Directories: []*tiff.Directory{level, label}}
	require.NoError(t, tiff.Write(c, path, tiff.WriteOptions{}))
	return path
}

func createTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("add_title_to_label: false\nworkers: 1\n"), 0o644))
	return path
}

func TestHandle(t *testing.T) {
	dir := t.TempDir()
	input := createTestSlide(t, dir)
	configPath := createTestConfig(t, dir)
	list := filepath.Join(dir, "list.json")
	require.NoError(t, os.WriteFile(list, []byte(`{"images": {"label": {}}}`), 0o644))

	tests := []struct {
		name     string
		request  *Request
		wantErr  error
		validate func(*testing.T, *Response)
	}{
		{
			name:    "basic request",
			request: &Request{Paths: []string{input}, OutDir: filepath.Join(dir, "basic"), ConfigPath: configPath},
			validate: func(t *testing.T, resp *Response) {
				assert.Equal(t, "S-22.svs", resp.Name)
				require.Len(t, resp.Outputs, 1)
				assert.FileExists(t, resp.Outputs[0].Path)
				assert.Greater(t, resp.Outputs[0].Size, int64(0))
				assert.Len(t, resp.Outputs[0].BLAKE3, 64)
				assert.Equal(t, "aperio", resp.Info.Format)
				assert.Equal(t, 0, resp.Info.RedactionCount.Images)
			},
		},
		{
			name: "request with list and fields",
			request: &Request{
				Paths:      []string{input},
				OutDir:     filepath.Join(dir, "listed"),
				ListPath:   list,
				Name:       "renamed.svs",
				Fields:     []string{"Batch=9"},
				ConfigPath: configPath,
			},
			validate: func(t *testing.T, resp *Response) {
				assert.Equal(t, "renamed.svs", resp.Name)
				assert.Equal(t, 1, resp.Info.RedactionCount.Images)

				out, err := tiff.Read(resp.Outputs[0].Path)
				require.NoError(t, err)
				assert.Len(t, out.Directories, 1)
				assert.Contains(t, out.Directories[0].Description(), "|CustomField.Batch = 9")
			},
		},
		{
			name:    "invalid request",
			request: &Request{Paths: []string{input}, ConfigPath: configPath},
			wantErr: app.ErrInvalidInput,
		},
		{
			name:    "missing config",
			request: &Request{Paths: []string{input}, OutDir: dir, ConfigPath: filepath.Join(dir, "none.yaml")},
			wantErr: app.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := app.NewContext()
			var steps []int
			ctx.SetProgress(func(_ string, pct int) { steps = append(steps, pct) })

			resp, err := Handle(ctx, tt.request)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 100, steps[len(steps)-1])
			tt.validate(t, resp)
		})
	}
}
