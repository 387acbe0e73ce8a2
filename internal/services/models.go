package services

import (
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
)

// Item is one slide submitted for redaction
type Item struct {
	// Name titles the slide when the redaction list does not
	Name string

	// Paths lists the slide files; only DICOM series have more than one
	Paths []string

	// RedactList is the caller's redaction list, merged over the defaults
	RedactList *policy.RedactionList

	// PreviouslyRedacted reuses an existing label title bar
	PreviouslyRedacted bool

	// UploadFields are manifest fields embedded into software fields
	UploadFields map[string]string
}

// Output identifies one written file
type Output struct {
	Path   string `json:"path" yaml:"path"`
	BLAKE3 string `json:"blake3" yaml:"blake3"`
}

// Info is the audit manifest of one redaction
type Info struct {
	Format         string            `json:"format" yaml:"format"`
	Model          string            `json:"model" yaml:"model"`
	Mimetype       string            `json:"mimetype" yaml:"mimetype"`
	RedactionCount policy.Count      `json:"redactionCount" yaml:"redactionCount"`
	FieldCount     policy.FieldCount `json:"fieldCount" yaml:"fieldCount"`
	Outputs        []Output          `json:"outputs" yaml:"outputs"`
}

// Result holds the written paths and the manifest
type Result struct {
	Paths []string
	Info  *Info
}
