package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/onera/studio/internal/logging"
)

// Encoding profile used for every export.
const (
	VideoCodec  = "libx264"
	PixelFormat = "yuv420p"
	AudioCodec  = "aac"
)

// EncodeJob describes one ffmpeg mux of a numbered frame sequence plus audio.
type EncodeJob struct {
	// FramePattern is a printf-style path such as /tmp/x/frame-%06d.png, numbered from 0.
	FramePattern string
	FPS          int
	// AudioInputs become ffmpeg inputs 1..n, in order.
	AudioInputs []string
	// FilterGraph mixes the audio inputs into OutputLabel. Empty means a silent video.
	FilterGraph string
	OutputLabel string
	Output      string
}

// Encoder turns an EncodeJob into a file.
type Encoder interface {
	Encode(ctx context.Context, job EncodeJob) error
}

// FFmpeg encodes through the ffmpeg command line.
type FFmpeg struct {
	binary string
	logger *slog.Logger
}

// NewFFmpeg returns an encoder using binary ("ffmpeg" when empty).
func NewFFmpeg(binary string, logger *slog.Logger) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary, logger: logging.NewComponentLogger(logger, "ffmpeg")}
}

// EncodeArgs builds the ffmpeg argument list for job.
func EncodeArgs(job EncodeJob) []string {
	fps := strconv.Itoa(job.FPS)
	args := []string{
		"-y", "-v", "error",
		"-framerate", fps,
		"-start_number", "0",
		"-i", job.FramePattern,
	}
	for _, in := range job.AudioInputs {
		args = append(args, "-i", in)
	}
	if job.FilterGraph != "" {
		label := job.OutputLabel
		if label == "" {
			label = "[outa]"
		}
		args = append(args,
			"-filter_complex", job.FilterGraph,
			"-map", "0:v",
			"-map", label,
			"-c:a", AudioCodec,
		)
	}
	args = append(args,
		"-c:v", VideoCodec,
		"-pix_fmt", PixelFormat,
		"-r", fps,
		"-shortest",
		job.Output,
	)
	return args
}

// Encode runs ffmpeg and waits for it to finish.
func (f *FFmpeg) Encode(ctx context.Context, job EncodeJob) error {
	if job.FramePattern == "" || job.Output == "" {
		return errors.New("encode: frame pattern and output are required")
	}
	if job.FPS <= 0 {
		return fmt.Errorf("encode: invalid fps %d", job.FPS)
	}
	args := EncodeArgs(job)
	f.logger.Debug("running ffmpeg", slog.String("output", job.Output), slog.Int("audio_inputs", len(job.AudioInputs)))

	cmd := commandContext(ctx, f.binary, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
