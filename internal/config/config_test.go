package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-wsi-deid/internal/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wsi-deid-config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.False(t, c.RedactMacroSquare)
	assert.True(t, c.AddTitleToLabel)
	assert.Equal(t, 384, c.TitleMinWidth)
	assert.Equal(t, 90, c.JPEGQuality)
	assert.GreaterOrEqual(t, c.Workers, 1)
	assert.Nil(t, c.UploadMetadataAddToImages)
	assert.Len(t, c.HideMetadata, 3)
	assert.Empty(t, c.HideMetadataForFormat["aperio"])
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
redact_macro_square: true
redact_macro_long_axis_percent: 40
redact_macro_short_axis_percent: 60
jpeg_quality: 75
upload_metadata_add_to_images: [Batch]
hide_metadata_format_philips:
  - '^internal;xml;PIM_DP_'
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.True(t, c.RedactMacroSquare)
	assert.Equal(t, 40, c.RedactMacroLongAxisPercent)
	assert.Equal(t, 60, c.RedactMacroShortAxisPercent)
	assert.Equal(t, 75, c.JPEGQuality)
	assert.True(t, c.AddTitleToLabel, "unset keys keep their defaults")
	assert.Equal(t, []string{"Batch"}, c.UploadMetadataAddToImages)
	assert.Equal(t, []string{"^internal;xml;PIM_DP_"}, c.HideMetadataForFormat["philips"])

	deid := c.DeidInfo(map[string]string{"Batch": "7", "Secret": "x"})
	assert.Equal(t, map[string]string{"CustomField.Batch": "7"}, deid.FieldDict())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("WSIDEID_WORKERS", "3")
	t.Setenv("WSIDEID_ALWAYS_REDACT_LABEL", "true")
	c, err := Load(writeConfig(t, "jpeg_quality: 80\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Workers)
	assert.True(t, c.AlwaysRedactLabel)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")

	_, err = Load(writeConfig(t, "jpeg_quality: 0\n"))
	assert.ErrorContains(t, err, "jpeg_quality")

	_, err = Load(writeConfig(t, "redact_macro_long_axis_percent: 120\n"))
	assert.ErrorContains(t, err, "redact_macro_long_axis_percent")
}

func TestPatterns(t *testing.T) {
	c := Default()
	c.HideMetadataForFormat["aperio"] = []string{`^internal;openslide;aperio\.User$`}

	p, err := c.Patterns(types.FormatAperio)
	require.NoError(t, err)
	assert.Len(t, p.Hide, 4)
	assert.Len(t, p.NeverRedact, 3)

	p, err = c.Patterns(types.FormatHamamatsu)
	require.NoError(t, err)
	assert.Len(t, p.Hide, 3)

	c.DisableRedactionForMetadata = []string{"("}
	_, err = c.Patterns(types.FormatAperio)
	assert.Error(t, err)
}

func TestTitleOptions(t *testing.T) {
	c := Default()
	c.TitleBackground = "#ffffff"
	c.TitleForeground = "#102030"
	opts, err := c.TitleOptions(true)
	require.NoError(t, err)
	assert.True(t, opts.PreviouslyTitled)
	assert.Equal(t, 384, opts.MinWidth)
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, opts.Background)
	assert.Equal(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, opts.Foreground)

	c.TitleForeground = "green"
	_, err = c.TitleOptions(false)
	assert.Error(t, err)
}
