// File: internal/interfaces/redaction.go
package interfaces

import (
	"context"
	"image"

	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
)

// Slide is an opened input image
type Slide struct {
	// Name is the item name used for generated titles
	Name string

	// Paths lists every input file; DICOM slides span several
	Paths []string

	// Format is the detected vendor format
	Format types.Format

	// Container is the parsed primary file of TIFF based formats, nil for DICOM
	Container *tiff.Container
}

// Path returns the primary input file
func (s *Slide) Path() string {
	if len(s.Paths) == 0 {
		return ""
	}
	return s.Paths[0]
}

// Plan carries the prepared inputs of one redaction
type Plan struct {
	// List is the merged redaction list
	List *policy.RedactionList

	// Title replaces identifying names
	Title string

	// Label is the replacement label image; nil writes no label
	Label image.Image

	// Macro is the replacement macro image; nil keeps or removes the original
	Macro image.Image

	// Deid holds upload fields embedded into software fields
	Deid policy.DeidInfo

	// WorkDir receives output and scratch files
	WorkDir string

	// JPEGQuality is used for synthesized associated images
	JPEGQuality int

	// Workers bounds tile re-encoding concurrency
	Workers int
}

// RedactionHandler redacts one vendor format
type RedactionHandler interface {
	// Format returns the vendor format served by the handler
	Format() types.Format

	// Metadata extracts the namespaced vendor metadata and associated image list
	Metadata(slide *Slide) (*policy.Source, error)

	// StandardRedactions returns the default redaction list for the slide
	StandardRedactions(src *policy.Source, title string, deid policy.DeidInfo) *policy.RedactionList

	// AssociatedImage decodes the associated image stored under key
	AssociatedImage(slide *Slide, key string) (image.Image, error)

	// Model returns the scanner model reported in the info manifest
	Model(src *policy.Source) string

	// Apply writes the redacted copy into plan.WorkDir and returns the output paths
	Apply(ctx context.Context, slide *Slide, plan *Plan) ([]string, error)
}
