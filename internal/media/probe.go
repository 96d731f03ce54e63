package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ProbeResult is the subset of ffprobe JSON output the editor uses.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// ProbeStream describes one stream in the container.
type ProbeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
}

// ProbeFormat is container-level metadata.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// Probe runs ffprobe against path and decodes its JSON report.
func Probe(ctx context.Context, binary, path string) (ProbeResult, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return ProbeResult{}, errors.New("ffprobe: empty path")
	}

	cmd := commandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// DurationSeconds returns the container duration, or 0 when ffprobe reported none.
func (r ProbeResult) DurationSeconds() float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || math.IsNaN(d) || d < 0 {
		return 0
	}
	return d
}

// HasVideo reports whether a video stream is present.
func (r ProbeResult) HasVideo() bool { return r.count("video") > 0 }

// HasAudio reports whether an audio stream is present.
func (r ProbeResult) HasAudio() bool { return r.count("audio") > 0 }

func (r ProbeResult) count(kind string) int {
	n := 0
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, kind) {
			n++
		}
	}
	return n
}
