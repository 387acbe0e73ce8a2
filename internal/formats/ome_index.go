package formats

import (
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// omeListTags always carry a sibling index in reduced keys, even when a
// parent holds only one of them.
var omeListTags = map[string]bool{
	"Image":         true,
	"Channel":       true,
	"TiffData":      true,
	"Plane":         true,
	"Instrument":    true,
	"Objective":     true,
	"Detector":      true,
	"ROI":           true,
	"XMLAnnotation": true,
	"MapAnnotation": true,
}

// omeRef locates the node behind one reduced key. Attr names the
// attribute, or is empty for element text. Index is the element position
// among its parent's children and orders removals.
type omeRef struct {
	Element *etree.Element
	Attr    string
	Index   int
	// Whole marks keys whose removal drops the element itself, as for
	// OriginalMetadata pairs.
	Whole bool
}

// OMEIndex is the flat key index of an OME XML tree. Keys join element
// names and sibling indices with ':' and end in an attribute name or
// "text"; OriginalMetadata pairs are indexed by their Key.
type OMEIndex struct {
	Values map[string]string
	Refs   map[string]omeRef
}

// ReduceOME builds the index of root.
func ReduceOME(root *etree.Element) *OMEIndex {
	idx := &OMEIndex{Values: make(map[string]string), Refs: make(map[string]omeRef)}
	for _, a := range root.Attr {
		if a.Space == "xmlns" || a.Key == "xmlns" || a.Space == "xsi" {
			continue
		}
		idx.add(a.Key, a.Value, omeRef{Element: root, Attr: a.Key})
	}
	idx.reduceChildren(root, "")
	return idx
}

func (idx *OMEIndex) add(key, value string, ref omeRef) {
	if _, ok := idx.Values[key]; ok {
		return
	}
	idx.Values[key] = value
	idx.Refs[key] = ref
}

func (idx *OMEIndex) reduceChildren(parent *etree.Element, prefix string) {
	children := parent.ChildElements()
	counts := make(map[string]int)
	for _, ch := range children {
		counts[ch.Tag]++
	}
	seen := make(map[string]int)
	for _, ch := range children {
		if ch.Tag == "OriginalMetadata" {
			idx.reduceOriginal(ch)
			continue
		}
		key := ch.Tag
		if counts[ch.Tag] > 1 || omeListTags[ch.Tag] {
			key += ":" + strconv.Itoa(seen[ch.Tag])
		}
		seen[ch.Tag]++
		if prefix != "" {
			key = prefix + ":" + key
		}
		for _, a := range ch.Attr {
			if a.Space == "xmlns" || a.Key == "xmlns" {
				continue
			}
			idx.add(key+":"+a.Key, a.Value, omeRef{Element: ch, Attr: a.Key, Index: ch.Index()})
		}
		if text := strings.TrimSpace(ch.Text()); text != "" {
			idx.add(key+":text", text, omeRef{Element: ch, Index: ch.Index()})
		}
		idx.reduceChildren(ch, key)
	}
}

// reduceOriginal indexes an OriginalMetadata Key/Value pair by its key.
func (idx *OMEIndex) reduceOriginal(el *etree.Element) {
	k, v := el.SelectElement("Key"), el.SelectElement("Value")
	if k == nil || v == nil {
		return
	}
	idx.add(strings.TrimSpace(k.Text()), strings.TrimSpace(v.Text()), omeRef{Element: v, Index: el.Index(), Whole: true})
}

// omeEdit is one pending change to the tree.
type omeEdit struct {
	ref   omeRef
	value *string
}

// Apply performs the edits, removals at higher sibling indices first so
// positions recorded in the index stay meaningful.
func (idx *OMEIndex) Apply(edits map[string]*string) {
	var pending []omeEdit
	for key, value := range edits {
		if ref, ok := idx.Refs[key]; ok {
			pending = append(pending, omeEdit{ref: ref, value: value})
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].ref.Index != pending[j].ref.Index {
			return pending[i].ref.Index > pending[j].ref.Index
		}
		return pending[i].ref.Attr > pending[j].ref.Attr
	})
	for _, e := range pending {
		el := e.ref.Element
		switch {
		case e.value == nil && e.ref.Whole:
			if pair := el.Parent(); pair != nil && pair.Parent() != nil {
				pair.Parent().RemoveChild(pair)
			}
		case e.value == nil && e.ref.Attr != "":
			el.RemoveAttr(e.ref.Attr)
		case e.value == nil:
			el.SetText("")
		case e.ref.Attr != "":
			el.CreateAttr(e.ref.Attr, *e.value)
		default:
			el.SetText(*e.value)
		}
	}
}
