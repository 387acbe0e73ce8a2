package formats

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sort"
	"strings"

	"github.com/beevik/etree"

	"github.com/deploymenttheory/go-wsi-deid/internal/imaging"
	"github.com/deploymenttheory/go-wsi-deid/internal/interfaces"
	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

const (
	philipsPrefix        = "internal;xml;"
	philipsScannedImages = "PIM_DP_SCANNED_IMAGES"
	philipsImageType     = "PIM_DP_IMAGE_TYPE"
	philipsImageData     = "PIM_DP_IMAGE_DATA"
	philipsBarcode       = "PIM_DP_UFS_BARCODE"
	philipsOperator      = "PIIM_DP_SCANNER_OPERATOR_ID"
	philipsMacroQuality  = 85
)

// philipsImageTypes maps associated image keys to scanned image types.
var philipsImageTypes = map[string]string{
	"macro": "MACROIMAGE",
	"label": "LABELIMAGE",
}

// PhilipsHandler redacts Philips TIFF files.
type PhilipsHandler struct {
	tiffBase
}

// NewPhilipsHandler creates a PhilipsHandler.
func NewPhilipsHandler(logger *slog.Logger) *PhilipsHandler {
	return &PhilipsHandler{tiffBase: newTIFFBase(types.FormatPhilips, logger)}
}

func parsePhilipsXML(desc string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(desc); err != nil {
		return nil, app.NewError(app.KindFormat, "failed to parse Philips XML description", err)
	}
	if doc.Root() == nil || doc.Root().Tag != "DataObject" {
		return nil, app.FormatError("Philips description has no DataObject root")
	}
	return doc, nil
}

// philipsAttr returns the first Attribute child of objects named name,
// optionally with the given text.
func philipsAttr(objects []*etree.Element, name string, text *string) *etree.Element {
	for _, obj := range objects {
		for _, attr := range obj.SelectElements("Attribute") {
			if attr.SelectAttrValue("Name", "") != name {
				continue
			}
			if text == nil || attr.Text() == *text {
				return attr
			}
		}
	}
	return nil
}

// philipsArrayObjects returns the DataObjects nested in an attribute's
// Array.
func philipsArrayObjects(attr *etree.Element) []*etree.Element {
	if attr == nil {
		return nil
	}
	array := attr.SelectElement("Array")
	if array == nil {
		return nil
	}
	return array.SelectElements("DataObject")
}

// philipsSubAttr finds subName (with optional text) inside the Array of
// the first attribute named name that holds a match.
func philipsSubAttr(objects []*etree.Element, name, subName string, subText *string) *etree.Element {
	for _, obj := range objects {
		for _, attr := range obj.SelectElements("Attribute") {
			if attr.SelectAttrValue("Name", "") != name {
				continue
			}
			if sub := philipsAttr(philipsArrayObjects(attr), subName, subText); sub != nil {
				return sub
			}
		}
	}
	return nil
}

// scannedImage returns the scanned image DataObject of an image type.
func scannedImage(root *etree.Element, imageType string) *etree.Element {
	sub := philipsSubAttr([]*etree.Element{root}, philipsScannedImages, philipsImageType, &imageType)
	if sub == nil {
		return nil
	}
	return sub.Parent()
}

// Metadata reports XML attributes under the xml namespace, nested ones as
// Name|SubName, and directory 0 tags under the tiff namespace.
func (h *PhilipsHandler) Metadata(slide *interfaces.Slide) (*policy.Source, error) {
	src, err := h.baseSource(slide)
	if err != nil {
		return nil, err
	}
	d0 := slide.Container.Directories[0]
	for tag, e := range d0.Entries {
		if e.Type == types.DatatypeASCII && tag != types.TagImageDescription {
			src.Metadata.Set("tiff", strings.ToLower(types.TagName(tag)), e.Text)
		}
	}
	doc, err := parsePhilipsXML(d0.Description())
	if err != nil {
		return nil, err
	}
	for _, attr := range doc.Root().SelectElements("Attribute") {
		name := attr.SelectAttrValue("Name", "")
		objects := philipsArrayObjects(attr)
		if objects == nil {
			if _, ok := src.Metadata.Get("xml", name); !ok {
				src.Metadata.Set("xml", name, strings.TrimSpace(attr.Text()))
			}
			continue
		}
		for _, obj := range objects {
			for _, sub := range obj.SelectElements("Attribute") {
				subName := sub.SelectAttrValue("Name", "")
				if subName == philipsImageData || sub.SelectElement("Array") != nil {
					continue
				}
				key := name + "|" + subName
				if _, ok := src.Metadata.Get("xml", key); !ok {
					src.Metadata.Set("xml", key, strings.TrimSpace(sub.Text()))
				}
			}
		}
	}
	for key, imageType := range philipsImageTypes {
		if !src.HasAssociatedImage(key) && scannedImage(doc.Root(), imageType) != nil {
			src.AssociatedImages = append(src.AssociatedImages, key)
		}
	}
	sort.Strings(src.AssociatedImages)
	return src, nil
}

// AssociatedImage decodes the directory holding key, falling back to the
// base64 JPEG embedded in the XML.
func (h *PhilipsHandler) AssociatedImage(slide *interfaces.Slide, key string) (image.Image, error) {
	c, err := h.container(slide)
	if err != nil {
		return nil, err
	}
	if findAssociated(c, h.format, key) >= 0 {
		return h.tiffBase.AssociatedImage(slide, key)
	}
	doc, err := parsePhilipsXML(c.Directories[0].Description())
	if err != nil {
		return nil, err
	}
	var data *etree.Element
	if obj := scannedImage(doc.Root(), philipsImageTypes[key]); obj != nil {
		data = philipsAttr([]*etree.Element{obj}, philipsImageData, nil)
	}
	if data == nil {
		return nil, app.NewError(app.KindInvalidInput, fmt.Sprintf("no %s image in %s", key, slide.Path()), nil)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data.Text()))
	if err != nil {
		return nil, app.NewError(app.KindFormat, "invalid embedded "+key+" image", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, app.NewError(app.KindFormat, "invalid embedded "+key+" image", err)
	}
	return img, nil
}

// Apply writes philips.tiff.
func (h *PhilipsHandler) Apply(ctx context.Context, slide *interfaces.Slide, plan *interfaces.Plan) ([]string, error) {
	if _, err := h.container(slide); err != nil {
		return nil, err
	}
	h.logger.Info("redacting slide", "path", slide.Path())
	c := slide.Container.Clone()
	doc, err := parsePhilipsXML(c.Directories[0].Description())
	if err != nil {
		return nil, err
	}
	root := doc.Root()
	if area := plan.List.WSIArea(); area != nil {
		if err := h.redactWSIArea(ctx, c, area, plan.Workers, plan.WorkDir); err != nil {
			return nil, err
		}
	}

	// Listed images go away; a prepared label replaces the original.
	drops := func(key string) bool {
		if key == "macro" && plan.Macro != nil {
			return false
		}
		return plan.List.HasImage(key) || (key == "label" && plan.Label != nil)
	}
	for key, imageType := range philipsImageTypes {
		if !drops(key) {
			continue
		}
		if obj := scannedImage(root, imageType); obj != nil {
			obj.Parent().RemoveChild(obj)
		}
	}
	var dropDirs []int
	for i, d := range c.Directories {
		if i == 0 {
			continue
		}
		if key := firstToken(d.Description()); key != "" && drops(key) {
			dropDirs = append(dropDirs, i)
		}
	}
	c.RemoveDirectories(dropDirs)

	list := plan.List.Clone()
	list.Metadata[philipsPrefix+philipsOperator] = policy.System(policy.Str(plan.Title))
	list.Metadata[philipsPrefix+philipsBarcode] = policy.System(policy.Str(plan.Title + "|" + plan.Deid.Field("")))
	RedactTags(c, list, plan.Title)
	AddDeidSoftware(c, plan.Deid.Field(""))
	applyPhilipsMetadata(root, list)

	if err := h.replaceMacro(c, root, plan); err != nil {
		return nil, err
	}
	if err := h.addLabel(c, root, plan); err != nil {
		return nil, err
	}

	desc, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize Philips XML: %w", err)
	}
	c.Directories[0].SetASCII(types.TagImageDescription, desc)
	path, err := h.write(c, plan.WorkDir, "philips.tiff")
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// applyPhilipsMetadata removes every listed xml attribute, then inserts
// the known ones that carry a value at the front of the top-level list.
func applyPhilipsMetadata(root *etree.Element, list *policy.RedactionList) {
	var keys []string
	for full := range list.Metadata {
		if key, ok := strings.CutPrefix(full, philipsPrefix); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	objects := []*etree.Element{root}
	for _, key := range keys {
		name, subName, nested := strings.Cut(key, "|")
		var attr *etree.Element
		if nested {
			attr = philipsSubAttr(objects, name, subName, nil)
		} else {
			attr = philipsAttr(objects, name, nil)
		}
		if attr != nil {
			attr.Parent().RemoveChild(attr)
		}
	}

	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]
		entry := list.Metadata[philipsPrefix+key]
		element, known := PhilipsTagElements[key]
		if entry.Value == nil || strings.Contains(key, "|") || !known {
			continue
		}
		text := *entry.Value
		if key == philipsBarcode {
			text = base64.StdEncoding.EncodeToString([]byte(text))
		}
		root.InsertChildAt(0, newPhilipsAttr(key, element, text))
	}
}

func newPhilipsAttr(name string, element PhilipsTagElement, text string) *etree.Element {
	attr := etree.NewElement("Attribute")
	attr.CreateAttr("Name", name)
	attr.CreateAttr("Group", element.Group)
	attr.CreateAttr("Element", element.Element)
	attr.CreateAttr("PMSVR", element.PMSVR)
	attr.SetText(text)
	return attr
}

// replaceMacro re-encodes the macro directory and its embedded copy.
func (h *PhilipsHandler) replaceMacro(c *tiff.Container, root *etree.Element, plan *interfaces.Plan) error {
	if plan.Macro == nil {
		return nil
	}
	idx := -1
	for i, d := range c.Directories {
		if firstToken(d.Description()) == "macro" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	d, data, err := imaging.JPEGDirectory(plan.Macro, philipsMacroQuality)
	if err != nil {
		return err
	}
	d.SetASCII(types.TagImageDescription, c.Directories[idx].Description())
	c.Directories[idx] = d

	if obj := scannedImage(root, philipsImageTypes["macro"]); obj != nil {
		if attr := philipsAttr([]*etree.Element{obj}, philipsImageData, nil); attr != nil {
			attr.SetText(base64.StdEncoding.EncodeToString(data))
		}
	}
	h.logger.Debug("replaced macro image", "directory", idx)
	return nil
}

// addLabel appends the label directory and a matching scanned image.
func (h *PhilipsHandler) addLabel(c *tiff.Container, root *etree.Element, plan *interfaces.Plan) error {
	if plan.Label == nil {
		return nil
	}
	quality := plan.JPEGQuality
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	d, data, err := imaging.JPEGDirectory(plan.Label, quality)
	if err != nil {
		return err
	}
	d.SetASCII(types.TagImageDescription, "Label")
	d.Set(tiff.NewLongs(types.TagNewSubfileType, types.SubfileTypeReduced))
	c.Directories = append(c.Directories, d)

	scanned := philipsAttr([]*etree.Element{root}, philipsScannedImages, nil)
	if scanned == nil {
		return nil
	}
	array := scanned.SelectElement("Array")
	if array == nil {
		array = scanned.CreateElement("Array")
	}
	obj := array.CreateElement("DataObject")
	obj.CreateAttr("ObjectType", "DPScannedImage")
	obj.AddChild(newPhilipsAttr(philipsImageType, PhilipsTagElements[philipsImageType], "LABELIMAGE"))
	obj.AddChild(newPhilipsAttr(philipsImageData, PhilipsTagElements[philipsImageData], base64.StdEncoding.EncodeToString(data)))
	return nil
}
