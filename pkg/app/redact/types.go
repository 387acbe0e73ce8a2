package redact

import (
	"time"

	"github.com/deploymenttheory/go-wsi-deid/internal/services"
)

// Request represents one slide redaction request
type Request struct {
	// Paths lists the slide files; several only for a DICOM series
	Paths []string
	// OutDir receives the redacted files
	OutDir string

	// Redaction inputs
	ListPath           string
	Name               string
	PreviouslyRedacted bool
	Fields             []string // key=value upload fields

	// ConfigPath overrides the config search path
	ConfigPath string
}

// Response represents a finished redaction
type Response struct {
	Name    string         `json:"name" yaml:"name"`
	Outputs []OutputResult `json:"outputs" yaml:"outputs"`
	Info    *services.Info `json:"info" yaml:"info"`
	Elapsed time.Duration  `json:"elapsed" yaml:"elapsed"`
}

// OutputResult represents one written file
type OutputResult struct {
	Path   string `json:"path" yaml:"path"`
	Size   int64  `json:"size" yaml:"size"`
	BLAKE3 string `json:"blake3" yaml:"blake3"`
}

// FormatSize returns a human-readable size string
func (o *OutputResult) FormatSize() string {
	return formatBytes(o.Size)
}

// TotalSize sums the sizes of every output
func (r *Response) TotalSize() int64 {
	var total int64
	for _, o := range r.Outputs {
		total += o.Size
	}
	return total
}
