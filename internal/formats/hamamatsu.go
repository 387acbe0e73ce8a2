package formats

import (
	"context"
	"log/slog"
	"strings"

	"github.com/deploymenttheory/go-wsi-deid/internal/imaging"
	"github.com/deploymenttheory/go-wsi-deid/internal/interfaces"
	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
)

const hamamatsuPrefix = "internal;openslide;hamamatsu."

// sourceLensByKey maps associated image keys to NDPI source lens values.
var sourceLensByKey = map[string]int64{
	"macro":    types.NDPISourceLensMacro,
	"nonempty": types.NDPISourceLensMap,
}

// HamamatsuHandler redacts NDPI files.
type HamamatsuHandler struct {
	tiffBase
}

// NewHamamatsuHandler creates a HamamatsuHandler.
func NewHamamatsuHandler(logger *slog.Logger) *HamamatsuHandler {
	return &HamamatsuHandler{tiffBase: newTIFFBase(types.FormatHamamatsu, logger)}
}

// Metadata reports property map entries as hamamatsu.<key>.
func (h *HamamatsuHandler) Metadata(slide *interfaces.Slide) (*policy.Source, error) {
	src, err := h.baseSource(slide)
	if err != nil {
		return nil, err
	}
	d0 := slide.Container.Directories[0]
	props := ParsePropertyMap(d0.ASCII(types.TagNDPIPropertyMap))
	for _, key := range props.Keys() {
		v, _ := props.Get(key)
		src.Metadata.Set("openslide", "hamamatsu."+key, v)
	}
	if ref := d0.ASCII(types.TagNDPIReference); ref != "" {
		src.Metadata.Set("openslide", "hamamatsu.Reference", ref)
	}
	return src, nil
}

// Apply writes hamamatsu.ndpi.
func (h *HamamatsuHandler) Apply(ctx context.Context, slide *interfaces.Slide, plan *interfaces.Plan) ([]string, error) {
	if _, err := h.container(slide); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.logger.Info("redacting slide", "path", slide.Path())
	c := slide.Container.Clone()
	if area := plan.List.WSIArea(); area != nil {
		if err := h.redactWSIArea(ctx, c, area, plan.Workers, plan.WorkDir); err != nil {
			return nil, err
		}
	}

	var drop []int
	for key := range plan.List.Images {
		if key == "macro" && plan.Macro != nil {
			continue
		}
		lens, ok := sourceLensByKey[key]
		if !ok {
			continue
		}
		for i, d := range c.Directories {
			if v, ok := d.Int(types.TagNDPISourceLens); ok && v == lens {
				drop = append(drop, i)
			}
		}
	}
	c.RemoveDirectories(drop)

	RedactTags(c, plan.List, plan.Title)
	AddDeidSoftware(c, plan.Deid.Field(""))

	d0 := c.Directories[0]
	hasMap := d0.Has(types.TagNDPIPropertyMap)
	props := ParsePropertyMap(d0.ASCII(types.TagNDPIPropertyMap))
	for full, entry := range plan.List.Metadata {
		key, ok := strings.CutPrefix(full, hamamatsuPrefix)
		if !ok {
			continue
		}
		if _, present := props.Get(key); !present {
			continue
		}
		if entry.Value == nil {
			props.Delete(key)
		} else {
			props.Set(key, *entry.Value)
		}
	}
	serialized := props.String()
	for _, d := range c.Directories {
		d.SetASCII(types.TagNDPIReference, plan.Title)
		if hasMap {
			d.SetASCII(types.TagNDPIPropertyMap, serialized)
		}
	}

	if err := h.replaceMacro(c, plan); err != nil {
		return nil, err
	}
	path, err := h.write(c, plan.WorkDir, "hamamatsu.ndpi")
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// replaceMacro swaps the macro strip for the prepared image, keeping the
// NDPI tags of the original directory.
func (h *HamamatsuHandler) replaceMacro(c *tiff.Container, plan *interfaces.Plan) error {
	if plan.Macro == nil {
		return nil
	}
	idx := -1
	for i, d := range c.Directories {
		if v, ok := d.Int(types.TagNDPISourceLens); ok && v == types.NDPISourceLensMacro {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	quality := plan.JPEGQuality
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	data, err := imaging.EncodeJPEG(plan.Macro, quality)
	if err != nil {
		return err
	}
	b := plan.Macro.Bounds()
	d := c.Directories[idx].Clone()
	d.Set(tiff.NewLongs(types.TagImageWidth, uint64(b.Dx())))
	d.Set(tiff.NewLongs(types.TagImageLength, uint64(b.Dy())))
	d.Set(tiff.NewLongs(types.TagRowsPerStrip, uint64(b.Dy())))
	d.Set(tiff.NewShorts(types.TagCompression, types.CompressionJPEG))
	d.Set(tiff.NewShorts(types.TagPhotometric, types.PhotometricYCbCr))
	d.Set(tiff.NewLongs(types.TagStripOffsets, 0))
	d.Set(tiff.NewLongs(types.TagStripByteCounts, uint64(len(data))))
	d.Delete(types.TagJPEGTables)
	d.Chunks = nil
	d.SetChunk(types.TagStripOffsets, 0, data)
	if d.Has(types.TagNDPIMCUStarts) {
		starts, err := ScanMCUStarts(data)
		if err != nil {
			return err
		}
		d.Set(tiff.NewLongs(types.TagNDPIMCUStarts, starts...))
	}
	c.Directories[idx] = d
	h.logger.Debug("replaced macro image", "directory", idx, "bytes", len(data))
	return nil
}
