// Package media provides seekable frame sources for timeline layers and the ffmpeg
// tooling the export pipeline encodes with.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	_ "golang.org/x/image/webp" // register decoder

	"github.com/onera/studio/internal/logging"
)

var commandContext = exec.CommandContext

// ErrUnsupported is returned when no source type can serve a layer.
var ErrUnsupported = errors.New("unsupported media source")

// Source is a decoder positioned at a source-relative time.
type Source interface {
	// Seek positions the source at t seconds and blocks until the frame at t is
	// available or ctx is done.
	Seek(ctx context.Context, t float64) error
	// Position is the time of the last completed seek.
	Position() float64
	// Frame is the decoded frame at Position, or nil before the first seek.
	Frame() image.Image
	Close() error
}

// VideoSource decodes single frames from a video file by invoking ffmpeg with an
// input seek. Each seek is frame-exact at the cost of one process per frame.
type VideoSource struct {
	src    string
	binary string
	logger *slog.Logger

	mu       sync.Mutex
	position float64
	frame    image.Image
}

// NewVideoSource returns a source for the video at src (path or URL).
func NewVideoSource(src, ffmpegBinary string, logger *slog.Logger) *VideoSource {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &VideoSource{src: src, binary: ffmpegBinary, logger: logging.NewComponentLogger(logger, "media")}
}

// Seek decodes the frame at t. Past the end of the stream ffmpeg yields nothing and
// the previous frame is held, like a paused player would.
func (v *VideoSource) Seek(ctx context.Context, t float64) error {
	if t < 0 {
		t = 0
	}
	args := []string{
		"-v", "error",
		"-ss", strconv.FormatFloat(t, 'f', 6, 64),
		"-i", v.src,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	}
	cmd := commandContext(ctx, v.binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("seek %s to %.3f: %w", v.src, t, ctxErr)
		}
		return fmt.Errorf("seek %s to %.3f: %w: %s", v.src, t, err, strings.TrimSpace(stderr.String()))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.position = t
	if stdout.Len() == 0 {
		v.logger.Debug("no frame at seek time, holding previous", slog.String("src", v.src), slog.Float64("time", t))
		return nil
	}
	img, err := png.Decode(&stdout)
	if err != nil {
		return fmt.Errorf("decode frame %s at %.3f: %w", v.src, t, err)
	}
	v.frame = img
	return nil
}

func (v *VideoSource) Position() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.position
}

func (v *VideoSource) Frame() image.Image {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frame
}

func (v *VideoSource) Close() error { return nil }

// ImageSource is a still image; seeking only records the position.
type ImageSource struct {
	img image.Image

	mu       sync.Mutex
	position float64
}

// NewImageSource wraps an already decoded image.
func NewImageSource(img image.Image) *ImageSource {
	return &ImageSource{img: img}
}

// LoadImage reads and decodes a PNG, JPEG, GIF or WebP still from a file path or an
// http(s) URL.
func LoadImage(ctx context.Context, src string) (*ImageSource, error) {
	rc, err := openSource(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", src, err)
	}
	return NewImageSource(img), nil
}

func (s *ImageSource) Seek(_ context.Context, t float64) error {
	s.mu.Lock()
	s.position = t
	s.mu.Unlock()
	return nil
}

func (s *ImageSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *ImageSource) Frame() image.Image { return s.img }

func (s *ImageSource) Close() error { return nil }

func openSource(ctx context.Context, src string) (io.ReadCloser, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, fmt.Errorf("build request for %s: %w", src, err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", src, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: status %d", src, resp.StatusCode)
		}
		return resp.Body, nil
	}
	f, err := os.Open(strings.TrimPrefix(src, "file://"))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	return f, nil
}
