package formats

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"runtime"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/deploymenttheory/go-wsi-deid/internal/imaging"
	"github.com/deploymenttheory/go-wsi-deid/internal/parsers/tiff"
	"github.com/deploymenttheory/go-wsi-deid/internal/types"
	"github.com/deploymenttheory/go-wsi-deid/pkg/app"
)

// wsiJPEGQuality is used for re-encoded whole-slide tiles.
const wsiJPEGQuality = 95

// areaRedactor blacks out polygons, given in full-resolution pixel
// coordinates, in every pyramid level and the thumbnail.
type areaRedactor struct {
	base    *tiffBase
	polys   []orb.Polygon
	width   float64
	height  float64
	workers int
	codec   *imaging.Codec
	reader  *tiff.PayloadReader
}

// redactWSIArea rewrites the masked parts of c in place. Only JPEG
// compressed directories can be re-encoded.
func (b *tiffBase) redactWSIArea(ctx context.Context, c *tiff.Container, fc *geojson.FeatureCollection, workers int, workDir string) error {
	polys := imaging.Polygons(fc)
	if len(polys) == 0 || len(c.Directories) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	d0 := c.Directories[0]
	a := &areaRedactor{
		base:    b,
		polys:   polys,
		width:   float64(d0.Width()),
		height:  float64(d0.Height()),
		workers: workers,
		codec:   imaging.NewCodec(workDir, b.logger),
		reader:  tiff.NewPayloadReader(),
	}
	defer a.reader.Close()

	b.logger.Info("redacting whole-slide area", "polygons", len(polys))
	for i, d := range c.Directories {
		role := ClassifyDirectory(d, i, b.format)
		if role.Kind != types.RolePrimary && role.Kind != types.RoleThumbnail {
			continue
		}
		replaced, err := a.redactDirectory(ctx, d)
		if err != nil {
			return err
		}
		c.Directories[i] = replaced
	}
	return nil
}

// redactDirectory handles d and its SubIFD pyramid.
func (a *areaRedactor) redactDirectory(ctx context.Context, d *tiff.Directory) (*tiff.Directory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := d
	var err error
	if d.Tiled() {
		err = a.redactTiles(ctx, d)
	} else {
		out, err = a.redactStrips(d)
	}
	if err != nil {
		return nil, err
	}
	for _, chain := range out.SubDirectories {
		for j, sub := range chain {
			if chain[j], err = a.redactDirectory(ctx, sub); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (a *areaRedactor) scaledPolygons(d *tiff.Directory) []orb.Polygon {
	return imaging.ScalePolygons(a.polys, float64(d.Width())/a.width, float64(d.Height())/a.height, 0, 0)
}

func requireJPEG(d *tiff.Directory) error {
	if compression, _ := d.Uint(types.TagCompression); compression != types.CompressionJPEG {
		return app.UnsupportedFormatError("area redaction of compression %d", compression)
	}
	return nil
}

// redactTiles re-encodes every tile a polygon touches. Untouched tiles
// keep their original payloads.
func (a *areaRedactor) redactTiles(ctx context.Context, d *tiff.Directory) error {
	if err := requireJPEG(d); err != nil {
		return err
	}
	tw, _ := d.Uint(types.TagTileWidth)
	th, _ := d.Uint(types.TagTileLength)
	if tw == 0 || th == 0 || d.Width() == 0 {
		return app.FormatError("tiled directory has no tile size")
	}
	polys := a.scaledPolygons(d)
	across := (int(d.Width()) + int(tw) - 1) / int(tw)
	photometric, _ := d.Uint(types.TagPhotometric)

	var masked []int
	for i := 0; i < a.reader.Count(d, types.TagTileOffsets); i++ {
		x0, y0 := (i%across)*int(tw), (i/across)*int(th)
		tile := orb.Bound{Min: orb.Point{float64(x0), float64(y0)}, Max: orb.Point{float64(x0) + float64(tw), float64(y0) + float64(th)}}
		for _, p := range polys {
			if p.Bound().Intersects(tile) {
				masked = append(masked, i)
				break
			}
		}
	}
	if len(masked) == 0 {
		return nil
	}
	a.base.logger.Debug("re-encoding masked tiles", "width", d.Width(), "tiles", len(masked))

	var mu sync.Mutex
	results := make(map[int][]byte, len(masked))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, i := range masked {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mu.Lock()
			data, err := a.reader.Read(d, types.TagTileOffsets, i)
			mu.Unlock()
			if err != nil {
				return err
			}
			decoded, err := a.codec.DecodeChunk(d, data, int(th), int(tw))
			if err != nil {
				return err
			}
			tile := image.NewRGBA(image.Rect(0, 0, int(tw), int(th)))
			draw.Draw(tile, tile.Bounds(), decoded, decoded.Bounds().Min, draw.Src)
			x0, y0 := (i%across)*int(tw), (i/across)*int(th)
			imaging.FillPolygons(tile, imaging.ScalePolygons(polys, 1, 1, float64(x0), float64(y0)), color.RGBA{A: 0xff})
			encoded, err := imaging.EncodeChunk(tile, photometric, wsiJPEGQuality)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = encoded
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, data := range results {
		d.SetChunk(types.TagTileOffsets, i, data)
	}
	return nil
}

// stripTagsReplaced are the entries of a stripped directory that no
// longer describe its payload once the image is re-encoded.
var stripTagsReplaced = map[uint16]bool{
	types.TagStripOffsets:    true,
	types.TagStripByteCounts: true,
	types.TagFreeOffsets:     true,
	types.TagFreeByteCounts:  true,
	types.TagPredictor:       true,
	types.TagExtraSamples:    true,
	types.TagJPEGTables:      true,
	types.TagJPEGProc:        true,
	types.TagJPEGIFOffset:    true,
	types.TagJPEGIFByteCount: true,
	types.TagJPEGQTables:     true,
	types.TagJPEGDCTables:    true,
	types.TagJPEGACTables:    true,
	types.TagSubIFD:          true,
	types.TagNDPIMCUStarts:   true,
}

// redactStrips replaces a stripped image with a masked single-strip copy
// that keeps every descriptive entry of d. NDPI directories listing MCU
// starts are re-encoded with restart markers and the starts recomputed.
func (a *areaRedactor) redactStrips(d *tiff.Directory) (*tiff.Directory, error) {
	if err := requireJPEG(d); err != nil {
		return nil, err
	}
	img, err := a.codec.Decode(a.reader, d)
	if err != nil {
		return nil, err
	}
	masked := imaging.RedactArea(img, a.scaledPolygons(d))

	restarts := d.Has(types.TagNDPIMCUStarts)
	var out *tiff.Directory
	var data []byte
	if restarts {
		out, data, err = imaging.RestartJPEGDirectory(masked, wsiJPEGQuality)
	} else {
		out, data, err = imaging.JPEGDirectory(masked, wsiJPEGQuality)
	}
	if err != nil {
		return nil, err
	}
	for tag, e := range d.Entries {
		if !stripTagsReplaced[tag] && !out.Has(tag) {
			out.Set(e)
		}
	}
	if restarts {
		starts, err := ScanMCUStarts(data)
		if err != nil {
			return nil, err
		}
		out.Set(tiff.NewLongs(types.TagNDPIMCUStarts, starts...))
	}
	out.SubDirectories = d.SubDirectories
	a.base.logger.Debug("re-encoded masked strip image", "width", d.Width(), "restarts", restarts)
	return out, nil
}
