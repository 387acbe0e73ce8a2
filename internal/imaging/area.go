package imaging

import (
	"image"
	"image/color"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// maskChunk bounds the pixel span rasterized in one pass along each axis.
const maskChunk = 16384

// Polygons extracts the polygon geometries of a feature collection.
// MultiPolygons contribute each member.
func Polygons(fc *geojson.FeatureCollection) []orb.Polygon {
	if fc == nil {
		return nil
	}
	var out []orb.Polygon
	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			out = append(out, g)
		case orb.MultiPolygon:
			out = append(out, g...)
		}
	}
	return out
}

// ScalePolygons maps polygons by a per-axis factor and offset:
// p' = p*scale - offset.
func ScalePolygons(polys []orb.Polygon, sx, sy, ox, oy float64) []orb.Polygon {
	out := make([]orb.Polygon, len(polys))
	for i, poly := range polys {
		np := make(orb.Polygon, len(poly))
		for j, ring := range poly {
			nr := make(orb.Ring, len(ring))
			for k, pt := range ring {
				nr[k] = orb.Point{pt[0]*sx - ox, pt[1]*sy - oy}
			}
			np[j] = nr
		}
		out[i] = np
	}
	return out
}

// RedactArea returns a copy of img with every polygon filled opaque
// black. Each polygon uses the even-odd rule across its rings; separate
// polygons are painted over one another.
func RedactArea(img image.Image, polys []orb.Polygon) *image.RGBA {
	out := toRGBA(img)
	if out == nil {
		return nil
	}
	FillPolygons(out, polys, color.RGBA{A: 0xff})
	return out
}

// FillPolygons paints polys onto dst in place. Pixels whose centers fall
// inside a polygon are set to c.
func FillPolygons(dst *image.RGBA, polys []orb.Polygon, c color.RGBA) {
	bounds := dst.Bounds()
	for _, poly := range polys {
		pb := poly.Bound()
		area := image.Rect(
			int(pb.Min[0]), int(pb.Min[1]),
			int(pb.Max[0])+1, int(pb.Max[1])+1,
		).Intersect(bounds)
		if area.Empty() {
			continue
		}
		for y0 := area.Min.Y; y0 < area.Max.Y; y0 += maskChunk {
			for x0 := area.Min.X; x0 < area.Max.X; x0 += maskChunk {
				chunk := image.Rect(x0, y0, min(x0+maskChunk, area.Max.X), min(y0+maskChunk, area.Max.Y))
				fillChunk(dst, poly, chunk, c)
			}
		}
	}
}

// fillChunk scanline-fills one polygon inside chunk.
func fillChunk(dst *image.RGBA, poly orb.Polygon, chunk image.Rectangle, c color.RGBA) {
	var xs []float64
	for y := chunk.Min.Y; y < chunk.Max.Y; y++ {
		yc := float64(y) + 0.5
		xs = xs[:0]
		for _, ring := range poly {
			n := len(ring)
			for i := 0; i < n; i++ {
				a, b := ring[i], ring[(i+1)%n]
				if (a[1] <= yc) == (b[1] <= yc) {
					continue
				}
				xs = append(xs, a[0]+(yc-a[1])*(b[0]-a[0])/(b[1]-a[1]))
			}
		}
		if len(xs) < 2 {
			continue
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			// pixel x is inside when xs[i] <= x+0.5 < xs[i+1]
			start := max(chunk.Min.X, ceilInt(xs[i]-0.5))
			end := min(chunk.Max.X, ceilInt(xs[i+1]-0.5))
			for x := start; x < end; x++ {
				dst.SetRGBA(x, y, c)
			}
		}
	}
}

func ceilInt(v float64) int {
	i := int(v)
	if float64(i) < v {
		i++
	}
	return i
}
