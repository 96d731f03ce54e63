// Package interaction turns pointer deltas on the timeline into layer geometry.
//
// The functions here are pure: they read a View and return the patch a gesture would
// apply. Machine wires them to a Store.
package interaction

import (
	"math"

	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/timeline"
)

const (
	// MinClipLength is the shortest a trim can make a layer, in seconds.
	MinClipLength = 0.5

	// SnapPixels is the snap radius in screen pixels; divided by zoom it becomes seconds.
	SnapPixels = 10.0

	DefaultZoom = 30.0
	MinZoom     = 10.0
	MaxZoom     = 100.0
)

// View is the read model a gesture is resolved against.
type View struct {
	Layers   []model.Layer
	Tracks   model.Tracks
	Zoom     float64 // pixels per second
	Playhead float64
	Duration float64
	Magnetic bool
}

// ViewOf builds a View from a store snapshot.
func ViewOf(snap timeline.Snapshot, zoom float64) View {
	return View{
		Layers:   snap.Layers,
		Tracks:   snap.Tracks,
		Zoom:     ClampZoom(zoom),
		Playhead: snap.CurrentTime,
		Duration: snap.Duration,
		Magnetic: snap.Magnetic,
	}
}

// ClampZoom bounds zoom to [MinZoom, MaxZoom]; zero selects DefaultZoom.
func ClampZoom(zoom float64) float64 {
	if zoom == 0 || math.IsNaN(zoom) {
		return DefaultZoom
	}
	return math.Min(math.Max(zoom, MinZoom), MaxZoom)
}

// pixelsPerSecond returns zoom as given, or DefaultZoom when it is unset or invalid.
// Bounding to [MinZoom, MaxZoom] is left to the zoom control.
func pixelsPerSecond(zoom float64) float64 {
	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return DefaultZoom
	}
	return zoom
}

// TimeAt converts a ruler x offset in pixels to timeline seconds.
func TimeAt(x, zoom float64) float64 {
	return math.Max(0, x/pixelsPerSecond(zoom))
}

// SnapTime pulls t onto the nearest snap point within SnapPixels/zoom seconds.
// Snap points are zero, the playhead, the duration and both edges of every layer
// except selfID. With magnetic mode off t is returned unchanged.
func SnapTime(v View, t float64, selfID string) float64 {
	if !v.Magnetic {
		return t
	}
	closest := 0.0
	consider := func(c float64) {
		if math.Abs(c-t) < math.Abs(closest-t) {
			closest = c
		}
	}
	consider(v.Playhead)
	consider(v.Duration)
	for _, l := range v.Layers {
		if l.ID == selfID {
			continue
		}
		consider(l.Start)
		consider(l.End)
	}
	if math.Abs(closest-t) < SnapPixels/pixelsPerSecond(v.Zoom) {
		return closest
	}
	return t
}

// Gesture captures a layer's geometry at pointer-down. Deltas are always applied to
// these initial values so a drag never accumulates rounding error.
type Gesture struct {
	LayerID      string
	Track        model.TrackType
	InitialStart float64
	InitialEnd   float64
	InitialTrim  float64
	SourceBacked bool
}

// Begin captures the gesture for layer id. It returns false if the layer is unknown or
// its track is locked.
func Begin(v View, id string) (Gesture, bool) {
	for _, l := range v.Layers {
		if l.ID != id {
			continue
		}
		if v.Tracks[l.Track()].Locked {
			return Gesture{}, false
		}
		return Gesture{
			LayerID:      l.ID,
			Track:        l.Track(),
			InitialStart: l.Start,
			InitialEnd:   l.End,
			InitialTrim:  l.TrimStart,
			SourceBacked: l.SourceBacked(),
		}, true
	}
	return Gesture{}, false
}

// Move shifts the whole layer by dx pixels, preserving its length.
func Move(v View, g Gesture, dx float64) model.LayerPatch {
	length := g.InitialEnd - g.InitialStart
	start := math.Max(0, g.InitialStart+dx/pixelsPerSecond(v.Zoom))
	start = SnapTime(v, start, g.LayerID)
	return model.LayerPatch{Start: model.Float(start), End: model.Float(start + length)}
}

// TrimLeft moves the left edge by dx pixels. For source-backed layers trimStart moves
// by the same amount, so the right edge keeps showing the same source material.
func TrimLeft(v View, g Gesture, dx float64) model.LayerPatch {
	lower := 0.0
	if g.SourceBacked {
		lower = math.Max(0, g.InitialStart-g.InitialTrim)
	}
	upper := g.InitialEnd - MinClipLength

	raw := clamp(g.InitialStart+dx/pixelsPerSecond(v.Zoom), lower, upper)
	start := SnapTime(v, raw, g.LayerID)
	if start < lower || start > upper {
		start = raw
	}

	patch := model.LayerPatch{Start: model.Float(start)}
	if g.SourceBacked {
		trim := math.Max(0, g.InitialTrim+(start-g.InitialStart))
		patch.TrimStart = model.Float(trim)
	}
	return patch
}

// TrimRight moves the right edge by dx pixels.
func TrimRight(v View, g Gesture, dx float64) model.LayerPatch {
	lower := g.InitialStart + MinClipLength
	raw := math.Max(lower, g.InitialEnd+dx/pixelsPerSecond(v.Zoom))
	end := SnapTime(v, raw, g.LayerID)
	if end < lower {
		end = raw
	}
	return model.LayerPatch{End: model.Float(end)}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
