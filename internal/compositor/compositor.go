package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/onera/studio/internal/logging"
	"github.com/onera/studio/internal/media"
	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/timeline"
)

// DefaultTolerance is how far a preview decoder may drift before it is re-seeked.
const DefaultTolerance = 0.2

// Compositor draws timeline snapshots onto a canvas, pulling frames from a media library.
type Compositor struct {
	canvas    model.Canvas
	library   *media.Library
	tolerance float64
	logger    *slog.Logger
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithTolerance sets the preview drift tolerance in seconds.
func WithTolerance(seconds float64) Option {
	return func(c *Compositor) {
		if seconds > 0 {
			c.tolerance = seconds
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compositor) { c.logger = logger }
}

// New returns a compositor for canvas backed by library.
func New(canvas model.Canvas, library *media.Library, opts ...Option) *Compositor {
	c := &Compositor{
		canvas:    canvas.WithDefaults(),
		library:   library,
		tolerance: DefaultTolerance,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "compositor")
	return c
}

// Canvas returns the output frame description.
func (c *Compositor) Canvas() model.Canvas { return c.canvas }

// Library returns the media library frames are drawn from.
func (c *Compositor) Library() *media.Library { return c.library }

// Sync brings the sources of every active layer close to time t for preview. A video
// source is re-seeked only when it has no frame yet or has drifted more than the
// tolerance. Failures are collected; the remaining layers are still synced.
func (c *Compositor) Sync(ctx context.Context, snap timeline.Snapshot, t float64) (int, error) {
	seeks := 0
	var errs []error
	for _, l := range ActiveLayers(snap.Layers, snap.Tracks, t) {
		if !Drawable(l) {
			continue
		}
		src, err := c.library.Source(ctx, l)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !Seekable(l) {
			continue
		}
		want := SourceTime(l, t)
		if src.Frame() != nil && math.Abs(src.Position()-want) <= c.tolerance {
			continue
		}
		if err := src.Seek(ctx, want); err != nil {
			errs = append(errs, fmt.Errorf("layer %s: %w", l.ID, err))
			continue
		}
		seeks++
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("preview sync incomplete", logging.Error(err), slog.Float64("time", t))
		return seeks, err
	}
	return seeks, nil
}

// Render composites the layers active at t. Sources must already be positioned; a
// layer whose source has no frame is skipped.
func (c *Compositor) Render(snap timeline.Snapshot, t float64) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, c.canvas.Width, c.canvas.Height))
	fill(dst, dst.Bounds(), ParseColor(c.canvas.BgColor, colorBlack), 1)

	for _, l := range ActiveLayers(snap.Layers, snap.Tracks, t) {
		switch {
		case Drawable(l):
			src, ok := c.library.Lookup(l.ID)
			if !ok || src.Frame() == nil {
				continue
			}
			drawFrame(dst, src.Frame(), c.frameRect(l), opacity(l))
		case l.Type == model.LayerAudio, l.Type == model.LayerMedia:
			// audio and sourceless media draw nothing
		case l.Type == model.LayerElement && l.Subtype == model.SubtypeProgress:
			drawProgress(dst, c.canvas, l)
		case l.Type == model.LayerElement && l.Subtype == model.SubtypeShape:
			drawShape(dst, l)
		case l.Content != "":
			drawText(dst, c.canvas, l)
		}
	}
	return dst
}

// frameRect is the destination of a media layer: centred on (x, y) and sized
// width*scaleX by height*scaleY. Layers without geometry fill the canvas.
func (c *Compositor) frameRect(l model.Layer) image.Rectangle {
	w, h := l.Width, l.Height
	x, y := l.X, l.Y
	if w <= 0 || h <= 0 {
		w, h = float64(c.canvas.Width), float64(c.canvas.Height)
		if x == 0 && y == 0 {
			x, y = w/2, h/2
		}
	}
	w *= scale(l.ScaleX)
	h *= scale(l.ScaleY)
	return image.Rect(
		int(math.Round(x-w/2)), int(math.Round(y-h/2)),
		int(math.Round(x+w/2)), int(math.Round(y+h/2)),
	)
}

func scale(v float64) float64 {
	if v == 0 {
		return 1
	}
	return math.Abs(v)
}

func opacity(l model.Layer) float64 {
	if l.Opacity <= 0 || l.Opacity > 1 {
		return 1
	}
	return l.Opacity
}
