package formats

import (
	"strings"
	"unicode"

	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
)

// ClassifyDirectory returns the role of the top-level directory at index.
func ClassifyDirectory(d *tiff.Directory, index int, format types.Format) types.Role {
	switch format {
	case types.FormatHamamatsu:
		lens, ok := d.Int(types.TagNDPISourceLens)
		switch {
		case ok && lens == types.NDPISourceLensMacro:
			return types.Role{Kind: types.RoleMacro}
		case ok && lens == types.NDPISourceLensMap:
			return types.Role{Kind: types.RoleUnknown, Token: "nonempty"}
		}
		return types.Role{Kind: types.RolePrimary, Level: index}
	case types.FormatPhilips:
		if index == 0 || d.Tiled() {
			return types.Role{Kind: types.RolePrimary, Level: index}
		}
		return roleForToken(firstToken(d.Description()))
	}

	if index == 0 || d.Tiled() {
		return types.Role{Kind: types.RolePrimary, Level: index}
	}
	if key := associatedKey(d); key != "" {
		return types.RoleForKey(key)
	}
	if format == types.FormatAperio && index == 1 {
		return types.Role{Kind: types.RoleThumbnail}
	}
	return types.Role{Kind: types.RoleUnknown}
}

func roleForToken(token string) types.Role {
	if token == "" {
		return types.Role{Kind: types.RoleUnknown}
	}
	return types.RoleForKey(token)
}

// firstToken returns the lowercased first word of s.
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// descriptionKey reads the associated image name from the line after the
// description header. Tokens starting with a digit are dimensions, not
// names.
func descriptionKey(desc string) string {
	if _, rest, ok := strings.Cut(desc, "\n"); ok {
		desc = rest
	}
	token := firstToken(desc)
	if token == "" || unicode.IsDigit(rune(token[0])) {
		return ""
	}
	return token
}

// associatedKey names a non-pyramid directory from its description,
// falling back to the reduced-image bit of NewSubfileType.
func associatedKey(d *tiff.Directory) string {
	if key := descriptionKey(d.Description()); key != "" {
		return key
	}
	if v, ok := d.Uint(types.TagNewSubfileType); ok && v&types.SubfileTypeReduced != 0 {
		if v == types.SubfileTypeReduced {
			return "label"
		}
		return "macro"
	}
	return ""
}

// associatedImages lists the associated image keys of a container in
// directory order.
func associatedImages(c *tiff.Container, format types.Format) []string {
	var keys []string
	seen := make(map[string]bool)
	for i, d := range c.Directories {
		key := ClassifyDirectory(d, i, format).AssociatedKey()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// findAssociated returns the index of the first directory holding key.
func findAssociated(c *tiff.Container, format types.Format, key string) int {
	for i, d := range c.Directories {
		if ClassifyDirectory(d, i, format).AssociatedKey() == key {
			return i
		}
	}
	return -1
}
