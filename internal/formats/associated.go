package formats

import (
	"log/slog"

	"github.com/deploymenttheory/go-wsi-deid/internal/interfaces"
	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
)

// removeAssociated drops stripped directories after directory 0 that
// are listed, that are labels, or that are macros about to be replaced.
func removeAssociated(c *tiff.Container, plan *interfaces.Plan, logger *slog.Logger) {
	var drop []int
	for idx := len(c.Directories) - 1; idx > 0; idx-- {
		if c.Directories[idx].Tiled() {
			continue
		}
		key := associatedKey(c.Directories[idx])
		if key == "" {
			continue
		}
		if plan.List.HasImage(key) || key == "label" || (key == "macro" && plan.Macro != nil) {
			logger.Debug("removing associated image", "directory", idx, "key", key)
			drop = append(drop, idx)
		}
	}
	c.RemoveDirectories(drop)
}

// insertAssociated splices the replacement macro and label in at index,
// label first. describe, when set, supplies each new description.
func insertAssociated(c *tiff.Container, index int, plan *interfaces.Plan, describe func(key string, w, h int) string) error {
	if plan.Macro != nil {
		if err := insertOne(c, index, "macro", plan, describe); err != nil {
			return err
		}
	}
	if plan.Label != nil {
		if err := insertOne(c, index, "label", plan, describe); err != nil {
			return err
		}
	}
	return nil
}

func insertOne(c *tiff.Container, index int, key string, plan *interfaces.Plan, describe func(key string, w, h int) string) error {
	img := plan.Macro
	if key == "label" {
		img = plan.Label
	}
	d, err := associatedDirectory(key, img, plan.JPEGQuality)
	if err != nil {
		return err
	}
	if describe != nil {
		b := img.Bounds()
		d.SetASCII(types.TagImageDescription, describe(key, b.Dx(), b.Dy()))
	}
	c.InsertDirectory(index, d)
	return nil
}
