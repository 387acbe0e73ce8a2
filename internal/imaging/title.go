// Package imaging composes replacement associated images: title bars,
// polygon masks and corner blackouts, plus decoding and re-encoding of
// TIFF directories.
package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Titler renders title bars. The parsed font is shared by every caller
// and never modified after the first use.
type Titler struct {
	once sync.Once
	font *opentype.Font
	err  error
}

var defaultTitler = &Titler{}

// DefaultTitler returns the process-wide Titler.
func DefaultTitler() *Titler {
	return defaultTitler
}

func (t *Titler) load() (*opentype.Font, error) {
	t.once.Do(func() {
		t.font, t.err = opentype.Parse(gomono.TTF)
	})
	return t.font, t.err
}

// TitleOptions controls AddTitle.
type TitleOptions struct {
	// PreviouslyTitled reuses an existing title bar instead of adding
	// another when the canvas still fits.
	PreviouslyTitled bool
	MinWidth         int
	Background       color.Color
	Foreground       color.Color
	Square           bool
}

// DefaultTitleOptions returns white text on black, 384 pixels wide,
// square output.
func DefaultTitleOptions() TitleOptions {
	return TitleOptions{
		MinWidth:   384,
		Background: color.Black,
		Foreground: color.White,
		Square:     true,
	}
}

// TitleLayout records how a title was fitted.
type TitleLayout struct {
	FontSize    int
	TextWidth   int
	TextHeight  int
	TitleHeight int
	Iterations  int
}

// AddTitle draws title in a bar above src, pillarboxing src to
// MinWidth. A nil src yields a title-only canvas. An empty title returns
// src unchanged.
func (t *Titler) AddTitle(src image.Image, title string, opts TitleOptions) (*image.RGBA, TitleLayout, error) {
	var layout TitleLayout
	if opts.Background == nil {
		opts.Background = color.Black
	}
	if opts.Foreground == nil {
		opts.Foreground = color.White
	}
	f, err := t.load()
	if err != nil {
		return nil, layout, fmt.Errorf("failed to load title font: %w", err)
	}

	w, h := 0, 0
	if src != nil {
		w, h = src.Bounds().Dx(), src.Bounds().Dy()
	}
	if title == "" {
		return toRGBA(src), layout, nil
	}

	targetW := max(opts.MinWidth, w)
	scale := 0.15
	var face font.Face
	var textBounds fixed.Rectangle26_6
	for iter := 3; iter > 0; iter-- {
		layout.Iterations++
		layout.FontSize = max(1, int(scale*float64(targetW)))
		if face, err = opentype.NewFace(f, &opentype.FaceOptions{
			Size:    float64(layout.FontSize),
			DPI:     72,
			Hinting: font.HintingNone,
		}); err != nil {
			return nil, layout, fmt.Errorf("failed to size title font: %w", err)
		}
		textBounds, _ = font.BoundString(face, title)
		layout.TextWidth = (textBounds.Max.X - textBounds.Min.X).Ceil()
		if layout.TextWidth == 0 {
			return toRGBA(src), layout, nil
		}
		layout.TextHeight = face.Metrics().Ascent.Ceil() + textBounds.Max.Y.Ceil()
		ratio := float64(layout.TextWidth) / float64(targetW)
		if iter == 1 || (ratio >= 0.85 && ratio <= 0.95) {
			break
		}
		scale = scale * float64(targetW) * 0.9 / float64(layout.TextWidth)
	}

	titleH := int(math.Ceil(float64(layout.TextHeight) * 1.25))
	if opts.Square && (w != h || !opts.PreviouslyTitled || w != targetW || h < titleH) {
		if targetW < h+titleH {
			targetW = h + titleH
		} else {
			titleH = targetW - h
		}
	}
	layout.TitleHeight = titleH

	var canvas *image.RGBA
	if opts.PreviouslyTitled && w == targetW && h >= titleH {
		canvas = toRGBA(src)
	} else {
		canvas = image.NewRGBA(image.Rect(0, 0, targetW, h+titleH))
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(opts.Background), image.Point{}, draw.Src)
		if src != nil {
			dst := image.Rect((targetW-w)/2, titleH, (targetW-w)/2+w, titleH+h)
			draw.Draw(canvas, dst, src, src.Bounds().Min, draw.Src)
		}
	}
	draw.Draw(canvas, image.Rect(0, 0, targetW, titleH), image.NewUniform(opts.Background), image.Point{}, draw.Src)

	x := (targetW-layout.TextWidth)/2 - textBounds.Min.X.Floor()
	top := (titleH - layout.TextHeight) / 2
	d := font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(opts.Foreground),
		Face: face,
		Dot:  fixed.P(x, top+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(title)
	return canvas, layout, nil
}

// toRGBA copies img into an opaque RGBA canvas. Alpha is discarded.
func toRGBA(img image.Image) *image.RGBA {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// ParseHexColor parses #rgb or #rrggbb.
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
