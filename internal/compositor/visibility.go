// Package compositor resolves which layers are live at an instant and draws them.
package compositor

import (
	"github.com/onera/studio/internal/model"
)

// Visible reports whether a lane takes part in the composition. When any lane is
// soloed only soloed lanes are visible. Lock and mute never hide visuals.
func Visible(tracks model.Tracks, track model.TrackType) bool {
	if tracks.AnySolo() {
		return tracks[track].Solo
	}
	return true
}

// Visibility evaluates Visible for every lane.
func Visibility(tracks model.Tracks) map[model.TrackType]bool {
	out := make(map[model.TrackType]bool, len(model.TrackTypes))
	for _, tt := range model.TrackTypes {
		out[tt] = Visible(tracks, tt)
	}
	return out
}

// AudioAudible reports whether a layer contributes sound: it must carry audio, sit on
// a visible lane, and be muted neither on its lane nor on itself.
func AudioAudible(l model.Layer, tracks model.Tracks) bool {
	if !l.HasAudio() || l.Muted {
		return false
	}
	track := l.Track()
	return Visible(tracks, track) && !tracks[track].Muted
}

// ActiveLayers returns the layers live at t in array order, which is also paint
// order. The interval is half-open, so a layer ending at t is already gone.
func ActiveLayers(layers []model.Layer, tracks model.Tracks, t float64) []model.Layer {
	vis := Visibility(tracks)
	var out []model.Layer
	for _, l := range layers {
		if l.Contains(t) && vis[l.Track()] {
			out = append(out, l)
		}
	}
	return out
}

// SourceTime maps timeline time t to the source offset of layer l.
func SourceTime(l model.Layer, t float64) float64 {
	return (t - l.Start) + l.TrimStart
}

// Seekable reports whether the layer shows frames from a time-addressed source.
func Seekable(l model.Layer) bool {
	return l.Type == model.LayerMedia && l.Subtype == model.SubtypeVideo && l.Src != ""
}

// Drawable reports whether the layer pulls pixels from a media source.
func Drawable(l model.Layer) bool {
	if l.Src == "" {
		return false
	}
	switch l.Type {
	case model.LayerMedia:
		return l.Subtype == model.SubtypeVideo || l.Subtype == model.SubtypeImage
	case model.LayerElement:
		return l.Subtype == model.SubtypeIcon || l.Subtype == model.SubtypeImage
	}
	return false
}
