// Package formats implements per-vendor redaction of whole-slide images:
// Aperio SVS, Hamamatsu NDPI, Philips TIFF, DICOM WSI series and
// OME-TIFF.
package formats

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/deploymenttheory/go-wsi-deid/internal/interfaces"
	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// dicomMagicOffset is where "DICM" follows the 128-byte preamble.
const dicomMagicOffset = 128

// IsDICOMFile reports whether path carries the DICOM preamble magic or a
// .dcm extension.
func IsDICOMFile(path string) bool {
	if strings.EqualFold(filepath.Ext(path), ".dcm") {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	magic := make([]byte, 4)
	if _, err := f.ReadAt(magic, dicomMagicOffset); err != nil && err != io.EOF {
		return false
	}
	return bytes.Equal(magic, []byte("DICM"))
}

// DetectContainer identifies the vendor layout of a parsed TIFF.
func DetectContainer(c *tiff.Container) types.Format {
	if len(c.Directories) == 0 {
		return types.FormatUnknown
	}
	d := c.Directories[0]
	desc := d.Description()
	switch {
	case d.Has(types.TagNDPIFormatFlag) || d.Has(types.TagNDPISourceLens):
		return types.FormatHamamatsu
	case c.IsDescriptionPrefix("aperio"):
		return types.FormatAperio
	case strings.Contains(desc, "<DataObject") && strings.Contains(desc, "DPUfsImport"):
		return types.FormatPhilips
	case strings.Contains(desc, "<OME"):
		return types.FormatOMETIFF
	}
	return types.FormatUnknown
}

// Open detects the format of paths and parses TIFF containers. Several
// paths are only valid for DICOM series.
func Open(name string, paths []string, logger *slog.Logger) (*interfaces.Slide, error) {
	if len(paths) == 0 {
		return nil, app.NewError(app.KindInvalidInput, "no input files", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = filepath.Base(paths[0])
	}
	slide := &interfaces.Slide{Name: name, Paths: paths}

	if IsDICOMFile(paths[0]) {
		for _, p := range paths[1:] {
			if !IsDICOMFile(p) {
				return nil, app.UnsupportedFormatError("%s is not part of a DICOM series", p)
			}
		}
		slide.Format = types.FormatDICOM
		logger.Debug("detected slide format", "name", name, "format", slide.Format)
		return slide, nil
	}
	if len(paths) > 1 {
		return nil, app.UnsupportedFormatError("only DICOM slides span several files")
	}

	c, err := tiff.NewReader(logger).Read(paths[0])
	if err != nil {
		return nil, err
	}
	slide.Container = c
	slide.Format = DetectContainer(c)
	if slide.Format == types.FormatUnknown {
		return nil, app.UnsupportedFormatError("cannot determine the vendor format of %s", paths[0])
	}
	logger.Debug("detected slide format", "name", name, "format", slide.Format, "directories", len(c.Directories))
	return slide, nil
}

// HandlerFor returns the handler of a format.
func HandlerFor(format types.Format, logger *slog.Logger) (interfaces.RedactionHandler, error) {
	switch format {
	case types.FormatAperio:
		return NewAperioHandler(logger), nil
	case types.FormatHamamatsu:
		return NewHamamatsuHandler(logger), nil
	case types.FormatPhilips:
		return NewPhilipsHandler(logger), nil
	case types.FormatDICOM:
		return NewDICOMHandler(logger), nil
	case types.FormatOMETIFF:
		return NewOMETIFFHandler(logger), nil
	}
	return nil, app.UnsupportedFormatError("cannot redact format %s", format)
}
