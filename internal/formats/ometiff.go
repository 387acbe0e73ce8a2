package formats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/beevik/etree"

	"github.com/deploymenttheory/go-wsi-deid/internal/interfaces"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

const (
	omeNamespace      = "http://www.openmicroscopy.org/Schemas/OME/2016-06"
	omeSchemaLocation = omeNamespace + " " + omeNamespace + "/ome.xsd"
	omePrefix         = "internal;omereduced;"
)

// OMETIFFHandler redacts OME-TIFF files.
type OMETIFFHandler struct {
	tiffBase
}

// NewOMETIFFHandler creates an OMETIFFHandler.
func NewOMETIFFHandler(logger *slog.Logger) *OMETIFFHandler {
	return &OMETIFFHandler{tiffBase: newTIFFBase(types.FormatOMETIFF, logger)}
}

func parseOMEXML(desc string) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(desc); err != nil {
		return nil, app.NewError(app.KindFormat, "failed to parse OME XML description", err)
	}
	if doc.Root() == nil || doc.Root().Tag != "OME" {
		return nil, app.FormatError("OME description has no OME root")
	}
	return doc, nil
}

// Metadata reports the reduced OME index under the omereduced namespace.
func (h *OMETIFFHandler) Metadata(slide *interfaces.Slide) (*policy.Source, error) {
	src, err := h.baseSource(slide)
	if err != nil {
		return nil, err
	}
	doc, err := parseOMEXML(slide.Container.Directories[0].Description())
	if err != nil {
		return nil, err
	}
	for key, value := range ReduceOME(doc.Root()).Values {
		src.Metadata.Set("omereduced", key, value)
	}
	return src, nil
}

// Apply writes ometiff.ome.tiff.
func (h *OMETIFFHandler) Apply(ctx context.Context, slide *interfaces.Slide, plan *interfaces.Plan) ([]string, error) {
	if _, err := h.container(slide); err != nil {
		return nil, err
	}
	h.logger.Info("redacting slide", "path", slide.Path())
	c := slide.Container.Clone()
	doc, err := parseOMEXML(c.Directories[0].Description())
	if err != nil {
		return nil, err
	}
	if area := plan.List.WSIArea(); area != nil {
		if err := h.redactWSIArea(ctx, c, area, plan.Workers, plan.WorkDir); err != nil {
			return nil, err
		}
	}

	firstAssociated := 1
	for i, d := range c.Directories {
		if d.Tiled() && i+1 > firstAssociated {
			firstAssociated = i + 1
		}
	}
	removeAssociated(c, plan, h.logger)
	if firstAssociated > len(c.Directories) {
		firstAssociated = len(c.Directories)
	}
	if err := insertAssociated(c, firstAssociated, plan, nil); err != nil {
		return nil, err
	}
	RedactTags(c, plan.List, plan.Title)

	index := ReduceOME(doc.Root())
	edits := make(map[string]*string)
	for full, entry := range plan.List.Metadata {
		if key, ok := strings.CutPrefix(full, omePrefix); ok {
			edits[key] = entry.Value
		}
	}
	index.Apply(edits)
	desc, err := rebuildOME(doc.Root())
	if err != nil {
		return nil, err
	}
	c.Directories[0].SetASCII(types.TagImageDescription, desc)

	AddDeidSoftware(c, plan.Deid.Field(""))
	path, err := h.write(c, plan.WorkDir, "ometiff.ome.tiff")
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// rebuildOME serializes the children of root under a fresh OME element
// that carries only the schema declarations.
func rebuildOME(root *etree.Element) (string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	ome := doc.CreateElement("OME")
	ome.CreateAttr("xmlns", omeNamespace)
	ome.CreateAttr("xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance")
	ome.CreateAttr("xsi:schemaLocation", omeSchemaLocation)
	for _, ch := range root.ChildElements() {
		cp := ch.Copy()
		clearSpace(cp)
		ome.AddChild(cp)
	}
	s, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("failed to serialize OME XML: %w", err)
	}
	return s, nil
}

// clearSpace drops namespace prefixes; the rebuilt root declares the OME
// namespace as the default.
func clearSpace(el *etree.Element) {
	el.Space = ""
	for _, ch := range el.ChildElements() {
		clearSpace(ch)
	}
}
