package inspect

import (
	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
)

// Request names the slide to inspect
type Request struct {
	Paths []string
	// Tags includes every TIFF entry in the response
	Tags bool
}

// Response describes an opened slide
type Response struct {
	Path             string                 `json:"path" yaml:"path"`
	Format           string                 `json:"format" yaml:"format"`
	Model            string                 `json:"model,omitempty" yaml:"model,omitempty"`
	AssociatedImages []string               `json:"associatedImages" yaml:"associatedImages"`
	Metadata         policy.Metadata        `json:"metadata" yaml:"metadata"`
	Container        *tiff.ContainerSummary `json:"container,omitempty" yaml:"container,omitempty"`
}
