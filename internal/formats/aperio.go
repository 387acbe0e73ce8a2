package formats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/deploymenttheory/go-wsi-deid/internal/interfaces"
	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/policy"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// AperioHandler redacts Aperio SVS files.
type AperioHandler struct {
	tiffBase
}

// NewAperioHandler creates an AperioHandler.
func NewAperioHandler(logger *slog.Logger) *AperioHandler {
	return &AperioHandler{tiffBase: newTIFFBase(types.FormatAperio, logger)}
}

// Metadata reports the description fields as aperio.<key> properties.
func (h *AperioHandler) Metadata(slide *interfaces.Slide) (*policy.Source, error) {
	src, err := h.baseSource(slide)
	if err != nil {
		return nil, err
	}
	for key, value := range parseAperioDescription(slide.Container.Directories[0].Description()) {
		src.Metadata.Set("openslide", "aperio."+key, value)
	}
	return src, nil
}

// parseAperioDescription reads the key = value fields following the
// header of an Aperio description.
func parseAperioDescription(desc string) map[string]string {
	out := make(map[string]string)
	parts := strings.Split(desc, "|")
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}

// escapeKey escapes backslashes and semicolons so a property name can be
// embedded in a redaction key.
func escapeKey(key string) string {
	return strings.NewReplacer(`\`, `\\`, `;`, `\;`).Replace(key)
}

// aperioValues returns the header followed by sorted "key = value"
// fields. Redacted values and values containing a pipe are dropped;
// custom fields come only from the upload manifest.
func aperioValues(meta policy.Metadata, list *policy.RedactionList, title string, deid policy.DeidInfo) []string {
	header, _, _ := strings.Cut(meta["openslide"]["openslide.comment"], "|")
	fields := make(map[string]string)
	for full, value := range meta["openslide"] {
		if !strings.HasPrefix(full, "aperio.") {
			continue
		}
		if e, ok := list.MetadataEntry(policy.FieldKey("openslide", escapeKey(full))); ok {
			if e.Value == nil {
				continue
			}
			value = *e.Value
		}
		key := strings.TrimPrefix(full, "aperio.")
		if strings.Contains(value, "|") || strings.HasPrefix(key, "CustomField.") {
			continue
		}
		fields[key] = value
	}
	for k, v := range deid.FieldDict() {
		fields[k] = v
	}
	fields["Filename"] = title
	fields["Title"] = title

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := []string{header}
	for _, k := range keys {
		values = append(values, k+" = "+fields[k])
	}
	return values
}

// checkAperioLayout verifies the pyramid occupies directory 0 and then a
// contiguous run after the optional thumbnail, widest first. It returns
// the index after the last pyramid directory.
func checkAperioLayout(c *tiff.Container, thumbnail bool) (int, error) {
	var main []int
	for i, d := range c.Directories {
		if ClassifyDirectory(d, i, types.FormatAperio).Kind == types.RolePrimary {
			main = append(main, i)
		}
	}
	if len(main) == 0 {
		return 0, app.LayoutError("no pyramid directories")
	}
	for level, idx := range main {
		want := level
		if level > 0 && thumbnail {
			want++
		}
		if idx != want {
			return 0, app.LayoutError("Aperio TIFF directories are not in the expected order: level %d is directory %d", level, idx)
		}
		if level > 0 && c.Directories[idx].Width() > c.Directories[main[level-1]].Width() {
			return 0, app.LayoutError("Aperio pyramid level %d is wider than level %d", level, level-1)
		}
	}
	return main[len(main)-1] + 1, nil
}

// Apply writes aperio.svs.
func (h *AperioHandler) Apply(ctx context.Context, slide *interfaces.Slide, plan *interfaces.Plan) ([]string, error) {
	src, err := h.Metadata(slide)
	if err != nil {
		return nil, err
	}
	h.logger.Info("redacting slide", "path", slide.Path())
	c := slide.Container.Clone()
	if area := plan.List.WSIArea(); area != nil {
		if err := h.redactWSIArea(ctx, c, area, plan.Workers, plan.WorkDir); err != nil {
			return nil, err
		}
	}

	values := aperioValues(src.Metadata, plan.List, plan.Title, plan.Deid)
	thumbnail := src.HasAssociatedImage("thumbnail")
	firstAssociated, err := checkAperioLayout(c, thumbnail)
	if err != nil {
		return nil, err
	}

	c.Directories[0].SetASCII(types.TagImageDescription, strings.Join(values, "|"))
	if thumbnail {
		if plan.List.HasImage("thumbnail") {
			c.RemoveDirectories([]int{1})
			firstAssociated--
		} else {
			thumb := c.Directories[1]
			header, _, _ := strings.Cut(thumb.Description(), "|")
			thumb.SetASCII(types.TagImageDescription, strings.Join(append([]string{header}, values[1:]...), "|"))
		}
	}

	removeAssociated(c, plan, h.logger)

	headerTail := values[0]
	if _, rest, ok := strings.Cut(values[0], "\n"); ok {
		headerTail = rest
	}
	if err := insertAssociated(c, firstAssociated, plan, func(key string, w, height int) string {
		return fmt.Sprintf("%s\n%s %dx%d", headerTail, key, w, height)
	}); err != nil {
		return nil, err
	}

	RedactTags(c, plan.List, plan.Title)
	AddDeidSoftware(c, plan.Deid.Field(""))
	path, err := h.write(c, plan.WorkDir, "aperio.svs")
	if err != nil {
		return nil, err
	}
	return []string{path}, nil
}
