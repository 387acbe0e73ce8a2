package types

import "fmt"

// Format identifies the vendor container layout of a slide image.
type Format int

const (
	FormatUnknown Format = iota
	// FormatAperio carries a pipe-delimited key=value comment in the
	// primary ImageDescription.
	FormatAperio
	// FormatHamamatsu is NDPI: a CRLF property map plus source-lens tags.
	FormatHamamatsu
	// FormatPhilips embeds a DataObject XML tree in ImageDescription.
	FormatPhilips
	// FormatDICOM is a flat set of sibling DICOM files.
	FormatDICOM
	// FormatOMETIFF carries OME XML reduced to a flat key index.
	FormatOMETIFF
)

var formatNames = map[Format]string{
	FormatUnknown:   "unknown",
	FormatAperio:    "aperio",
	FormatHamamatsu: "hamamatsu",
	FormatPhilips:   "philips",
	FormatDICOM:     "dicom",
	FormatOMETIFF:   "ometiff",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// MetadataNamespace is the key namespace the format's vendor metadata is
// reported under, e.g. internal;openslide;aperio.Title.
func (f Format) MetadataNamespace() string {
	switch f {
	case FormatPhilips:
		return "xml"
	case FormatOMETIFF:
		return "omereduced"
	}
	return "openslide"
}

// Mimetype returns the mimetype reported for redacted output.
func (f Format) Mimetype() string {
	if f == FormatDICOM {
		return "application/dicom"
	}
	return "image/tiff"
}

// ParseFormat maps a format name back to a Format.
func ParseFormat(name string) (Format, error) {
	for f, n := range formatNames {
		if n == name && f != FormatUnknown {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unknown format %q", name)
}

// RoleKind is the closed set of directory roles.
type RoleKind int

const (
	RolePrimary RoleKind = iota
	RoleThumbnail
	RoleLabel
	RoleMacro
	RoleUnknown
)

// Role describes what one directory holds. Level is meaningful for
// primary directories, Token for unknown associated images.
type Role struct {
	Kind  RoleKind
	Level int
	Token string
}

// AssociatedKey returns the images;<key> name used in redaction lists.
func (r Role) AssociatedKey() string {
	switch r.Kind {
	case RoleThumbnail:
		return "thumbnail"
	case RoleLabel:
		return "label"
	case RoleMacro:
		return "macro"
	case RoleUnknown:
		return r.Token
	}
	return ""
}

func (r Role) String() string {
	if r.Kind == RolePrimary {
		return fmt.Sprintf("primary(%d)", r.Level)
	}
	return r.AssociatedKey()
}

// RoleForKey returns the role of an associated image key.
func RoleForKey(key string) Role {
	switch key {
	case "thumbnail":
		return Role{Kind: RoleThumbnail}
	case "label":
		return Role{Kind: RoleLabel}
	case "macro":
		return Role{Kind: RoleMacro}
	}
	return Role{Kind: RoleUnknown, Token: key}
}
