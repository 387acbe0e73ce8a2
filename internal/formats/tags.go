package formats

import (
	"strconv"
	"strings"

	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
)

// titleTags always carry the generated title when present.
var titleTags = []uint16{types.TagDocumentName, types.TagNDPIReference}

// tagKey parses a redaction key of the form ...;tiff.<Name>[:<dir>] or
// ...;tiff;<name>[:<dir>]. ok is false for keys that do not name a tag or
// carry a non-numeric directory suffix.
func tagKey(key string) (tag uint16, dir int, ok bool) {
	var name string
	if i := strings.LastIndex(key, ";tiff;"); i >= 0 {
		name = key[i+len(";tiff;"):]
	} else if i := strings.LastIndex(key, ";tiff."); i >= 0 {
		name = key[i+len(";tiff."):]
	} else {
		return 0, 0, false
	}
	if i := strings.LastIndex(name, ":"); i >= 0 {
		n, err := strconv.Atoi(name[i+1:])
		if err != nil {
			return 0, 0, false
		}
		name, dir = name[:i], n
	}
	tag, ok = types.TagByName(name)
	return tag, dir, ok
}

// RedactTags applies tag-keyed list entries to existing tags: a removal
// deletes the tag, a replacement rewrites it as ASCII. Title tags take the
// title in every directory.
func RedactTags(c *tiff.Container, list *policy.RedactionList, title string) {
	edits := make(map[int]map[uint16]*string)
	for key, entry := range list.Metadata {
		tag, dir, ok := tagKey(key)
		if !ok {
			continue
		}
		if edits[dir] == nil {
			edits[dir] = make(map[uint16]*string)
		}
		edits[dir][tag] = entry.Value
	}
	for idx, d := range c.Directories {
		for tag, value := range edits[idx] {
			if !d.Has(tag) {
				continue
			}
			if value == nil {
				d.Delete(tag)
			} else {
				d.SetASCII(tag, *value)
			}
		}
		for _, tag := range titleTags {
			if d.Has(tag) {
				d.SetASCII(tag, title)
			}
		}
	}
}

// AddDeidSoftware stores the provenance field in directory 0's Software
// tag.
func AddDeidSoftware(c *tiff.Container, field string) {
	if len(c.Directories) == 0 {
		return
	}
	c.Directories[0].SetASCII(types.TagSoftware, field)
}

// asciiTags returns directory 0's ASCII tags by conventional name.
func asciiTags(c *tiff.Container) map[string]string {
	out := make(map[string]string)
	if len(c.Directories) == 0 {
		return out
	}
	for tag, e := range c.Directories[0].Entries {
		if e.Type == types.DatatypeASCII {
			out[types.TagName(tag)] = e.Text
		}
	}
	return out
}
