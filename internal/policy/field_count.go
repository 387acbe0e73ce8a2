package policy

import (
	"fmt"
	"regexp"
)

// Patterns are the regular expressions that shape audit counts.
type Patterns struct {
	// Hide matches keys never shown to reviewers.
	Hide []*regexp.Regexp
	// NeverRedact matches visible keys that cannot be redacted.
	NeverRedact []*regexp.Regexp
}

// CompilePatterns compiles hide and never-redact expression lists.
func CompilePatterns(hide, neverRedact []string) (Patterns, error) {
	var p Patterns
	for _, expr := range hide {
		re, err := regexp.Compile(expr)
		if err != nil {
			return Patterns{}, fmt.Errorf("invalid hide pattern %q: %w", expr, err)
		}
		p.Hide = append(p.Hide, re)
	}
	for _, expr := range neverRedact {
		re, err := regexp.Compile(expr)
		if err != nil {
			return Patterns{}, fmt.Errorf("invalid never-redact pattern %q: %w", expr, err)
		}
		p.NeverRedact = append(p.NeverRedact, re)
	}
	return p, nil
}

func matchAny(res []*regexp.Regexp, key string) bool {
	for _, re := range res {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

// MetadataCount is the audit breakdown of metadata fields.
type MetadataCount struct {
	Visible    int `json:"visible" yaml:"visible"`
	Redactable int `json:"redactable" yaml:"redactable"`
	Automatic  int `json:"automatic" yaml:"automatic"`
}

// FieldCount is the audit breakdown of an image's fields.
type FieldCount struct {
	Metadata MetadataCount `json:"metadata" yaml:"metadata"`
	Images   int           `json:"images" yaml:"images"`
}

// CountFields walks every metadata leaf. Hidden keys are skipped; visible
// keys already in the list count as automatic; the rest are redactable
// unless a never-redact pattern matches.
func CountFields(src *Source, list *RedactionList, p Patterns) FieldCount {
	var c MetadataCount
	for namespace, values := range src.Metadata {
		for key := range values {
			full := FieldKey(namespace, key)
			if matchAny(p.Hide, full) {
				continue
			}
			c.Visible++
			if _, ok := list.Metadata[full]; ok {
				c.Automatic++
				continue
			}
			if matchAny(p.NeverRedact, full) {
				continue
			}
			c.Redactable++
		}
	}
	return FieldCount{Metadata: c, Images: len(src.AssociatedImages)}
}
