package formats

import (
	"fmt"
	"image"
	"log/slog"
	"path/filepath"

	"github.com/deploymenttheory/go-wsi-deid/internal/imaging"
	"github.com/deploymenttheory/go-wsi-deid/internal/interfaces"
	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// defaultJPEGQuality is used for synthesized associated images when the
// plan leaves it unset.
const defaultJPEGQuality = 90

// openslideTIFFTags are reported as tiff.<Name> properties.
var openslideTIFFTags = []uint16{
	types.TagImageDescription,
	types.TagDocumentName,
	types.TagMake,
	types.TagModel,
	types.TagXResolution,
	types.TagYResolution,
	types.TagResolutionUnit,
	types.TagSoftware,
	types.TagDateTime,
	types.TagArtist,
	types.TagHostComputer,
	types.TagCopyright,
}

// tiffBase holds what the TIFF based handlers share.
type tiffBase struct {
	format types.Format
	logger *slog.Logger
}

func newTIFFBase(format types.Format, logger *slog.Logger) tiffBase {
	if logger == nil {
		logger = slog.Default()
	}
	return tiffBase{format: format, logger: logger.With("format", format.String())}
}

// Format returns the handled format.
func (b *tiffBase) Format() types.Format {
	return b.format
}

// StandardRedactions returns the format defaults.
func (b *tiffBase) StandardRedactions(src *policy.Source, title string, deid policy.DeidInfo) *policy.RedactionList {
	return policy.StandardRedactions(src, title, deid)
}

// Model returns the scanner model.
func (b *tiffBase) Model(src *policy.Source) string {
	return policy.ModelInformation(src.Metadata)
}

// AssociatedImage decodes the directory holding key.
func (b *tiffBase) AssociatedImage(slide *interfaces.Slide, key string) (image.Image, error) {
	c, err := b.container(slide)
	if err != nil {
		return nil, err
	}
	idx := findAssociated(c, b.format, key)
	if idx < 0 {
		return nil, app.NewError(app.KindInvalidInput, fmt.Sprintf("no %s image in %s", key, slide.Path()), nil)
	}
	r := tiff.NewPayloadReader()
	defer r.Close()
	return imaging.NewCodec("", b.logger).Decode(r, c.Directories[idx])
}

func (b *tiffBase) container(slide *interfaces.Slide) (*tiff.Container, error) {
	if slide.Container == nil || len(slide.Container.Directories) == 0 {
		return nil, app.FormatError("%s has no TIFF directories", slide.Path())
	}
	return slide.Container, nil
}

// baseSource collects the properties every TIFF format reports.
func (b *tiffBase) baseSource(slide *interfaces.Slide) (*policy.Source, error) {
	c, err := b.container(slide)
	if err != nil {
		return nil, err
	}
	meta := policy.Metadata{}
	d0 := c.Directories[0]
	meta.Set("openslide", "openslide.vendor", b.format.String())
	meta.Set("openslide", "openslide.comment", d0.Description())
	for _, tag := range openslideTIFFTags {
		if e := d0.Get(tag); e != nil {
			meta.Set("openslide", "tiff."+types.TagName(tag), e.String())
		}
	}
	level := 0
	for i, d := range c.Directories {
		if ClassifyDirectory(d, i, b.format).Kind != types.RolePrimary {
			continue
		}
		meta.Set("openslide", fmt.Sprintf("openslide.level[%d].width", level), fmt.Sprint(d.Width()))
		meta.Set("openslide", fmt.Sprintf("openslide.level[%d].height", level), fmt.Sprint(d.Height()))
		level++
	}
	meta.Set("openslide", "openslide.level-count", fmt.Sprint(level))

	return &policy.Source{
		Format:           b.format,
		Metadata:         meta,
		TIFFTags:         asciiTags(c),
		AssociatedImages: associatedImages(c, b.format),
	}, nil
}

// associatedDirectory encodes img as a JPEG strip directory tagged as a
// label or macro.
func associatedDirectory(key string, img image.Image, quality int) (*tiff.Directory, error) {
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	d, _, err := imaging.JPEGDirectory(img, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s image: %w", key, err)
	}
	subfile := uint64(types.SubfileTypeReduced)
	if key == "macro" {
		subfile = types.SubfileTypeMacro
	}
	d.Set(tiff.NewLongs(types.TagNewSubfileType, subfile))
	d.Set(tiff.NewShorts(types.TagImageDepth, 1))
	return d, nil
}

// write serializes c as name inside workDir.
func (b *tiffBase) write(c *tiff.Container, workDir, name string) (string, error) {
	path := filepath.Join(workDir, name)
	if err := tiff.NewWriter(b.logger).Write(c, path, tiff.WriteOptions{}); err != nil {
		return "", err
	}
	b.logger.Info("wrote redacted slide", "path", path, "directories", len(c.Directories))
	return path, nil
}
