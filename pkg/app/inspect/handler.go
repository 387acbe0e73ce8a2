package inspect

import (
	"github.com/deploymenttheory/go-wsi-deid/internal/formats"
	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// Handle opens a slide and summarizes its format, metadata and layout
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	if len(req.Paths) == 0 {
		return nil, app.NewError(app.KindInvalidInput, "at least one input file is required", nil)
	}

	slide, err := formats.Open("", req.Paths, ctx.Logger)
	if err != nil {
		return nil, err
	}
	handler, err := formats.HandlerFor(slide.Format, ctx.Logger)
	if err != nil {
		return nil, err
	}
	src, err := handler.Metadata(slide)
	if err != nil {
		return nil, err
	}
	ctx.Log("inspected slide", "path", slide.Path(), "format", slide.Format.String())

	response := &Response{
		Path:             slide.Path(),
		Format:           slide.Format.String(),
		Model:            handler.Model(src),
		AssociatedImages: src.AssociatedImages,
		Metadata:         src.Metadata,
	}
	if slide.Container != nil {
		summary := tiff.Describe(slide.Container)
		if !req.Tags {
			for i := range summary.Directories {
				summary.Directories[i].Tags = nil
			}
		}
		response.Container = &summary
	}
	return response, nil
}
