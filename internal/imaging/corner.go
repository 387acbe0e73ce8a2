package imaging

import (
	"image"
	"image/color"
	"image/draw"
)

// RedactTopLeftCorner blacks out a rectangle anchored at the top-left
// corner. With both percentages positive the rectangle spans longPct of
// the longer side and shortPct of the shorter side; otherwise it is the
// square of the shorter side.
func RedactTopLeftCorner(img image.Image, longPct, shortPct int) *image.RGBA {
	out := toRGBA(img)
	if out == nil {
		return nil
	}
	w, h := out.Bounds().Dx(), out.Bounds().Dy()
	var rw, rh int
	if longPct > 0 && shortPct > 0 {
		if w >= h {
			rw, rh = w*longPct/100, h*shortPct/100
		} else {
			rw, rh = w*shortPct/100, h*longPct/100
		}
	} else {
		side := min(w, h)
		rw, rh = side, side
	}
	draw.Draw(out, image.Rect(0, 0, rw, rh), image.NewUniform(color.Black), image.Point{}, draw.Src)
	return out
}
