package export

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/onera/studio/internal/compositor"
	"github.com/onera/studio/internal/model"
)

// MixLabel is the filter graph output pad carrying the mixed audio.
const MixLabel = "[outa]"

// AudioGraph is the ffmpeg side of the audio mix: extra inputs and the filter that
// trims, re-times and mixes them.
type AudioGraph struct {
	// Inputs are the audio sources, in ffmpeg input order starting at index 1;
	// index 0 is the frame sequence.
	Inputs []string
	Filter string
	Layers []string
}

// Empty reports whether the export is silent.
func (g AudioGraph) Empty() bool { return len(g.Inputs) == 0 }

// AudibleLayers returns the layers that contribute to the mix, in timeline order.
func AudibleLayers(layers []model.Layer, tracks model.Tracks) []model.Layer {
	var out []model.Layer
	for _, l := range layers {
		if compositor.AudioAudible(l, tracks) {
			out = append(out, l)
		}
	}
	return out
}

// BuildAudioGraph trims each layer's source to [trimStart, trimStart+length), resets
// its timestamps, delays it to the layer start and mixes everything without dropout
// fades.
func BuildAudioGraph(layers []model.Layer) AudioGraph {
	if len(layers) == 0 {
		return AudioGraph{}
	}
	var (
		g      AudioGraph
		filter strings.Builder
		pads   strings.Builder
	)
	for i, l := range layers {
		delay := int64(math.Round(l.Start * 1000))
		fmt.Fprintf(&filter, "[%d:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS,adelay=%d|%d[a%d];",
			i+1, seconds(l.TrimStart), seconds(l.TrimStart+l.Length()), delay, delay, i)
		fmt.Fprintf(&pads, "[a%d]", i)
		g.Inputs = append(g.Inputs, l.Src)
		g.Layers = append(g.Layers, l.ID)
	}
	fmt.Fprintf(&filter, "%samix=inputs=%d:duration=longest:dropout_transition=0%s", pads.String(), len(layers), MixLabel)
	g.Filter = filter.String()
	return g
}

func seconds(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}
