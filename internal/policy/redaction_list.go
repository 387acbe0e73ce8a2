// Package policy holds the declarative redaction list and the default
// redactions computed for each vendor format.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v3"
)

// ReasonSystem marks entries the tool adds on its own.
const ReasonSystem = "System Redacted"

// Entry is one redaction instruction. A nil Value removes the field, a
// non-nil Value replaces it.
type Entry struct {
	Value     *string                    `json:"value"`
	Reason    string                     `json:"reason,omitempty"`
	Category  string                     `json:"category,omitempty"`
	Automatic bool                       `json:"automatic,omitempty"`
	GeoJSON   *geojson.FeatureCollection `json:"geojson,omitempty"`
	Square    bool                       `json:"square,omitempty"`
}

type entryFields Entry

// UnmarshalJSON accepts either a full entry object or a bare value, which
// is shorthand for {"value": <value>}.
func (e *Entry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var f entryFields
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return err
		}
		*e = Entry(f)
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	*e = Entry{}
	switch val := v.(type) {
	case nil:
	case string:
		e.Value = &val
	default:
		s := fmt.Sprint(val)
		e.Value = &s
	}
	return nil
}

// Removed reports whether the entry deletes its field.
func (e *Entry) Removed() bool {
	return e == nil || e.Value == nil
}

// Str returns a pointer to s for building replacement entries.
func Str(s string) *string {
	return &s
}

// System returns a tool-generated entry. A nil value removes the field.
func System(value *string) *Entry {
	return &Entry{Value: value, Reason: ReasonSystem}
}

// AutomaticRemoval returns a tool-generated removal entry.
func AutomaticRemoval() *Entry {
	return &Entry{Automatic: true}
}

// RedactionList maps field keys to redaction entries by category.
// Metadata keys look like internal;<namespace>;<key>[:directory]; image
// keys are associated image names such as label or macro; area keys are
// _wsi for whole-slide masks.
type RedactionList struct {
	Images   map[string]*Entry `json:"images"`
	Metadata map[string]*Entry `json:"metadata"`
	Area     map[string]*Entry `json:"area,omitempty"`
}

// Count is the number of removals per category.
type Count struct {
	Images   int `json:"images" yaml:"images"`
	Metadata int `json:"metadata" yaml:"metadata"`
}

// NewRedactionList returns an empty list with every category allocated.
func NewRedactionList() *RedactionList {
	return &RedactionList{
		Images:   make(map[string]*Entry),
		Metadata: make(map[string]*Entry),
		Area:     make(map[string]*Entry),
	}
}

// normalize allocates missing categories and drops nil entries.
func (l *RedactionList) normalize() *RedactionList {
	if l.Images == nil {
		l.Images = make(map[string]*Entry)
	}
	if l.Metadata == nil {
		l.Metadata = make(map[string]*Entry)
	}
	if l.Area == nil {
		l.Area = make(map[string]*Entry)
	}
	for _, m := range []map[string]*Entry{l.Images, l.Metadata, l.Area} {
		for k, e := range m {
			if e == nil {
				m[k] = &Entry{}
			}
		}
	}
	return l
}

// ParseRedactionList decodes a JSON redaction list.
func ParseRedactionList(data []byte) (*RedactionList, error) {
	l := &RedactionList{}
	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("invalid redaction list: %w", err)
	}
	return l.normalize(), nil
}

// LoadRedactionList reads a redaction list from a .json, .yaml or .yml
// file.
func LoadRedactionList(path string) (*RedactionList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read redaction list: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("invalid redaction list %s: %w", path, err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("redaction list %s is not representable as JSON: %w", path, err)
		}
	}
	return ParseRedactionList(data)
}

// MetadataEntry returns the entry for a metadata key.
func (l *RedactionList) MetadataEntry(key string) (*Entry, bool) {
	e, ok := l.Metadata[key]
	return e, ok
}

// Image returns the entry for an associated image key.
func (l *RedactionList) Image(key string) (*Entry, bool) {
	e, ok := l.Images[key]
	return e, ok
}

// HasImage reports whether the associated image is listed.
func (l *RedactionList) HasImage(key string) bool {
	_, ok := l.Images[key]
	return ok
}

// WSIArea returns the whole-slide mask, if one was drawn.
func (l *RedactionList) WSIArea() *geojson.FeatureCollection {
	if e := l.Area["_wsi"]; e != nil && e.GeoJSON != nil && len(e.GeoJSON.Features) > 0 {
		return e.GeoJSON
	}
	return nil
}

// Count returns how many entries remove their field, per category.
func (l *RedactionList) Count() Count {
	var c Count
	for _, e := range l.Images {
		if e.Removed() {
			c.Images++
		}
	}
	for _, e := range l.Metadata {
		if e.Removed() {
			c.Metadata++
		}
	}
	return c
}

// Clone returns a copy whose maps can be edited independently. Entries
// are shared.
func (l *RedactionList) Clone() *RedactionList {
	out := NewRedactionList()
	for k, e := range l.Images {
		out.Images[k] = e
	}
	for k, e := range l.Metadata {
		out.Metadata[k] = e
	}
	for k, e := range l.Area {
		out.Area[k] = e
	}
	return out
}

// Merge combines computed defaults with a caller list. Caller entries
// win for the same key.
func Merge(defaults, caller *RedactionList) *RedactionList {
	out := NewRedactionList()
	for _, l := range []*RedactionList{defaults, caller} {
		if l == nil {
			continue
		}
		for k, e := range l.Images {
			out.Images[k] = e
		}
		for k, e := range l.Metadata {
			out.Metadata[k] = e
		}
		for k, e := range l.Area {
			out.Area[k] = e
		}
	}
	return out.normalize()
}
