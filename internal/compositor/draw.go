package compositor

import (
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/onera/studio/internal/model"
)

var (
	colorBlack  = color.RGBA{A: 0xff}
	colorWhite  = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	colorRed    = color.RGBA{R: 0xff, A: 0xff}
	colorAccent = color.RGBA{R: 0x7d, G: 0x55, B: 0xff, A: 0xff}
	colorTrack  = color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
)

const defaultFontSize = 40

// ParseColor reads #rgb, #rrggbb, #rrggbbaa or a CSS colour name. Anything else
// yields fallback.
func ParseColor(s string, fallback color.RGBA) color.RGBA {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	if s == "transparent" {
		return color.RGBA{}
	}
	if c, ok := colornames.Map[s]; ok {
		return c
	}
	if !strings.HasPrefix(s, "#") {
		return fallback
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return fallback
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return fallback
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}

// styleString reads a string entry of the free-form style payload.
func styleString(l model.Layer, key string) string {
	if l.Style == nil {
		return ""
	}
	s, _ := l.Style[key].(string)
	return s
}

func alphaMask(op float64) image.Image {
	if op >= 1 {
		return nil
	}
	return image.NewUniform(color.Alpha{A: uint8(math.Round(op * 0xff))})
}

func fill(dst *image.RGBA, r image.Rectangle, c color.RGBA, op float64) {
	xdraw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, alphaMask(op), image.Point{}, xdraw.Over)
}

func drawFrame(dst *image.RGBA, src image.Image, r image.Rectangle, op float64) {
	if r.Empty() {
		return
	}
	var opts *xdraw.Options
	if m := alphaMask(op); m != nil {
		opts = &xdraw.Options{SrcMask: m}
	}
	xdraw.ApproxBiLinear.Scale(dst, r, src, src.Bounds(), xdraw.Over, opts)
}

func centred(x, y, w, h float64) image.Rectangle {
	return image.Rect(
		int(math.Round(x-w/2)), int(math.Round(y-h/2)),
		int(math.Round(x+w/2)), int(math.Round(y+h/2)),
	)
}

func dimension(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

// drawShape paints a rect or circle element centred on (x, y), 100x100 by default.
func drawShape(dst *image.RGBA, l model.Layer) {
	w := dimension(l.Width, 100) * scale(l.ScaleX)
	h := dimension(l.Height, 100) * scale(l.ScaleY)
	c := ParseColor(l.Color, ParseColor(styleString(l, "fill"), colorRed))
	op := opacity(l)

	if styleString(l, "shape") == "circle" {
		m := circleMask{cx: l.X, cy: l.Y, r: w / 2, alpha: uint8(math.Round(op * 0xff))}
		xdraw.DrawMask(dst, m.Bounds(), image.NewUniform(c), image.Point{}, m, m.Bounds().Min, xdraw.Over)
		return
	}
	fill(dst, centred(l.X, l.Y, w, h), c, op)
}

// drawProgress paints a horizontal bar filled to the layer's progress (0..1, or a
// percentage when above 1).
func drawProgress(dst *image.RGBA, canvas model.Canvas, l model.Layer) {
	w := dimension(l.Width, float64(canvas.Width)*0.8) * scale(l.ScaleX)
	h := dimension(l.Height, 20) * scale(l.ScaleY)
	x, y := l.X, l.Y
	if x == 0 && y == 0 {
		x, y = float64(canvas.Width)/2, float64(canvas.Height)-h*2
	}
	p := l.Progress
	if p > 1 {
		p /= 100
	}
	p = math.Min(math.Max(p, 0), 1)

	op := opacity(l)
	bar := centred(x, y, w, h)
	fill(dst, bar, ParseColor(styleString(l, "background"), colorTrack), op)
	done := bar
	done.Max.X = bar.Min.X + int(math.Round(float64(bar.Dx())*p))
	fill(dst, done, ParseColor(l.Color, colorAccent), op)
}

// drawText renders content with the 7x13 bitmap face scaled to fontSize. Text layers
// anchor their top-left corner at (x, y); subtitles and text elements are centred
// on it, defaulting to the canvas centre.
func drawText(dst *image.RGBA, canvas model.Canvas, l model.Layer) {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	lines := strings.Split(l.Content, "\n")

	width := 0
	for _, line := range lines {
		width = max(width, font.MeasureString(face, line).Ceil())
	}
	if width == 0 {
		return
	}

	glyphs := image.NewRGBA(image.Rect(0, 0, width, lineHeight*len(lines)))
	fg := image.NewUniform(ParseColor(l.Color, ParseColor(styleString(l, "color"), colorWhite)))
	for i, line := range lines {
		lw := font.MeasureString(face, line).Ceil()
		d := &font.Drawer{
			Dst:  glyphs,
			Src:  fg,
			Face: face,
			Dot:  fixed.P((width-lw)/2, i*lineHeight+metrics.Ascent.Ceil()),
		}
		d.DrawString(line)
	}

	k := dimension(l.FontSize, defaultFontSize) / float64(lineHeight)
	w := float64(glyphs.Bounds().Dx()) * k * scale(l.ScaleX)
	h := float64(glyphs.Bounds().Dy()) * k * scale(l.ScaleY)

	var r image.Rectangle
	if l.Type == model.LayerText {
		r = image.Rect(int(math.Round(l.X)), int(math.Round(l.Y)), int(math.Round(l.X+w)), int(math.Round(l.Y+h)))
	} else {
		x, y := l.X, l.Y
		if x == 0 && y == 0 {
			x, y = float64(canvas.Width)/2, float64(canvas.Height)/2
		}
		r = centred(x, y, w, h)
	}

	var opts *xdraw.Options
	if m := alphaMask(opacity(l)); m != nil {
		opts = &xdraw.Options{SrcMask: m}
	}
	xdraw.NearestNeighbor.Scale(dst, r, glyphs, glyphs.Bounds(), xdraw.Over, opts)
}

type circleMask struct {
	cx, cy, r float64
	alpha     uint8
}

func (m circleMask) ColorModel() color.Model { return color.AlphaModel }

func (m circleMask) Bounds() image.Rectangle {
	return image.Rect(
		int(math.Floor(m.cx-m.r)), int(math.Floor(m.cy-m.r)),
		int(math.Ceil(m.cx+m.r)), int(math.Ceil(m.cy+m.r)),
	)
}

func (m circleMask) At(x, y int) color.Color {
	dx := float64(x) + 0.5 - m.cx
	dy := float64(y) + 0.5 - m.cy
	if dx*dx+dy*dy <= m.r*m.r {
		return color.Alpha{A: m.alpha}
	}
	return color.Alpha{}
}
