package formats

import (
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

func TestRedactWSIAreaRejectsMissingTileSize(t *testing.T) {
	tests := []struct {
		name   string
		remove uint16
	}{
		{name: "no tile width", remove: types.TagTileWidth},
		{name: "no tile length", remove: types.TagTileLength},
		{name: "no image width", remove: types.TagImageWidth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := createTestTiledDirectory(64, 64, 32, "Aperio Image Library")
			d.Delete(tt.remove)
			c := &tiff.Container{Directories: []*tiff.Directory{d}}
			fc := geojson.NewFeatureCollection()
			fc.Append(geojson.NewFeature(orb.Polygon{{{0, 0}, {8, 0}, {8, 8}, {0, 0}}}))

			base := newTIFFBase(types.FormatAperio, nil)
			var err error
			require.NotPanics(t, func() {
				err = base.redactWSIArea(context.Background(), c, fc, 1, t.TempDir())
			})
			require.Error(t, err)
			assert.True(t, errors.Is(err, app.ErrFormat))
		})
	}
}
