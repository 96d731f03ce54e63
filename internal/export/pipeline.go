// Package export renders a timeline snapshot frame by frame and encodes the result.
package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/onera/studio/internal/compositor"
	"github.com/onera/studio/internal/logging"
	"github.com/onera/studio/internal/media"
	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/timeline"
)

const (
	DefaultFPS         = 30
	DefaultOutput      = "exported_video.mp4"
	DefaultSeekTimeout = 10 * time.Second

	// FramePattern names captured frames; numbering starts at 0.
	FramePattern = "frame-%06d.png"

	// Frame capture covers this share of overall progress; encoding the rest.
	framesShare = 80
)

var (
	ErrBusy          = errors.New("export already running")
	ErrEmptyTimeline = errors.New("timeline is empty")
	ErrMediaSync     = errors.New("media sync failed")
	ErrEncode        = errors.New("encode failed")
)

// Status is the lifecycle state of a Pipeline.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Progress is reported while an export runs.
type Progress struct {
	Percent     int
	Stage       string
	Frame       int
	TotalFrames int
}

// Stages reported through Progress.
const (
	StageFrames = "rendering frames"
	StageEncode = "encoding"
	StageDone   = "done"
)

// Options tune a single export.
type Options struct {
	FPS         int
	Output      string
	WorkDir     string
	SeekTimeout time.Duration

	// OnProgress receives a callback whenever the percentage changes.
	OnProgress func(Progress)
	// OnFrame is called with each frame time before its sources are seeked, so a
	// shared playhead can follow the export.
	OnFrame func(t float64)
	// HasAudio filters audio inputs; sources it rejects are left out of the mix.
	// Nil keeps every audible layer.
	HasAudio func(ctx context.Context, src string) (bool, error)
}

func (o Options) withDefaults() Options {
	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	if o.Output == "" {
		o.Output = DefaultOutput
	}
	if o.SeekTimeout <= 0 {
		o.SeekTimeout = DefaultSeekTimeout
	}
	return o
}

// Result describes a finished export.
type Result struct {
	Output   string
	Frames   int
	Duration float64
	Audio    []string
}

// TotalFrames is ceil(duration * fps).
func TotalFrames(duration float64, fps int) int {
	if duration <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Ceil(duration*float64(fps) - 1e-9))
}

// FrameTime is the timeline time of frame i.
func FrameTime(i, fps int) float64 {
	return float64(i) / float64(fps)
}

// Pipeline walks a timeline in frame steps, forces every active media source to the
// exact frame time, captures the composited frame and hands the sequence plus an
// audio mix to the encoder. One export runs at a time.
type Pipeline struct {
	compositor *compositor.Compositor
	encoder    media.Encoder
	logger     *slog.Logger

	mu      sync.Mutex
	status  Status
	lastErr error
}

// New returns an idle pipeline.
func New(comp *compositor.Compositor, enc media.Encoder, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		compositor: comp,
		encoder:    enc,
		logger:     logging.NewComponentLogger(logger, "export"),
		status:     StatusIdle,
	}
}

// Status returns the current state and the error of the last failed run.
func (p *Pipeline) Status() (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.lastErr
}

func (p *Pipeline) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusRunning {
		return ErrBusy
	}
	p.status = StatusRunning
	p.lastErr = nil
	return nil
}

func (p *Pipeline) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.status = StatusFailed
		p.lastErr = err
		return
	}
	p.status = StatusCompleted
}

// Export renders snap into opts.Output. Any seek, decode, capture or encode error
// aborts the run and removes the partial output. Each call starts the frame walk
// from zero.
func (p *Pipeline) Export(ctx context.Context, snap timeline.Snapshot, opts Options) (Result, error) {
	if err := p.begin(); err != nil {
		return Result{}, err
	}
	res, err := p.run(ctx, snap, opts.withDefaults())
	p.finish(err)
	return res, err
}

func (p *Pipeline) run(ctx context.Context, snap timeline.Snapshot, opts Options) (Result, error) {
	duration := timeline.Duration(snap.Layers)
	total := TotalFrames(duration, opts.FPS)
	if total == 0 {
		return Result{}, ErrEmptyTimeline
	}

	if opts.WorkDir != "" {
		if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
			return Result{}, fmt.Errorf("create work dir: %w", err)
		}
	}
	frameDir, err := os.MkdirTemp(opts.WorkDir, "frames-*")
	if err != nil {
		return Result{}, fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(frameDir)

	logger := p.logger.With(slog.Int(logging.FieldFrames, total), slog.String(logging.FieldPath, opts.Output))
	logger.Info("export started", slog.Float64("duration", duration), slog.Int("fps", opts.FPS))

	reporter := newReporter(opts.OnProgress, total)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		t := FrameTime(i, opts.FPS)
		if opts.OnFrame != nil {
			opts.OnFrame(t)
		}
		if err := p.seekFrame(ctx, snap, t, opts.SeekTimeout); err != nil {
			logger.Error("frame sync failed", slog.Int(logging.FieldFrame, i), logging.Error(err))
			return Result{}, err
		}
		if err := writeFrame(filepath.Join(frameDir, fmt.Sprintf(FramePattern, i)), p.compositor, snap, t); err != nil {
			return Result{}, err
		}
		reporter.frame(i + 1)
	}

	graph, err := p.audioGraph(ctx, snap, opts)
	if err != nil {
		return Result{}, err
	}

	reporter.emit(Progress{Percent: framesShare, Stage: StageEncode, Frame: total, TotalFrames: total})
	job := media.EncodeJob{
		FramePattern: filepath.Join(frameDir, FramePattern),
		FPS:          opts.FPS,
		AudioInputs:  graph.Inputs,
		FilterGraph:  graph.Filter,
		Output:       opts.Output,
	}
	if !graph.Empty() {
		job.OutputLabel = MixLabel
	}
	if err := p.encoder.Encode(ctx, job); err != nil {
		_ = os.Remove(opts.Output)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	reporter.emit(Progress{Percent: 100, Stage: StageDone, Frame: total, TotalFrames: total})

	logger.Info("export completed", slog.Int("audio_inputs", len(graph.Inputs)))
	return Result{Output: opts.Output, Frames: total, Duration: duration, Audio: graph.Layers}, nil
}

// seekFrame positions every source the frame at t draws from. Seeks for distinct
// layers run concurrently and all must land before the frame is captured.
func (p *Pipeline) seekFrame(ctx context.Context, snap timeline.Snapshot, t float64, timeout time.Duration) error {
	lib := p.compositor.Library()
	barrier := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, l := range compositor.ActiveLayers(snap.Layers, snap.Tracks, t) {
		if !compositor.Drawable(l) {
			continue
		}
		src, err := lib.Source(ctx, l)
		if err != nil {
			_ = barrier.Wait()
			return fmt.Errorf("%w: open layer %s: %w", ErrMediaSync, l.ID, err)
		}
		if !compositor.Seekable(l) {
			continue
		}
		barrier.Go(func(ctx context.Context) error {
			seekCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			want := compositor.SourceTime(l, t)
			if err := src.Seek(seekCtx, want); err != nil {
				return fmt.Errorf("%w: layer %s at %.3fs: %w", ErrMediaSync, l.ID, want, err)
			}
			return nil
		})
	}
	return barrier.Wait()
}

func (p *Pipeline) audioGraph(ctx context.Context, snap timeline.Snapshot, opts Options) (AudioGraph, error) {
	audible := AudibleLayers(snap.Layers, snap.Tracks)
	if opts.HasAudio == nil {
		return BuildAudioGraph(audible), nil
	}
	kept := audible[:0:0]
	for _, l := range audible {
		ok, err := opts.HasAudio(ctx, l.Src)
		if err != nil {
			return AudioGraph{}, fmt.Errorf("%w: probe %s: %w", ErrMediaSync, l.Src, err)
		}
		if ok {
			kept = append(kept, l)
		}
	}
	return BuildAudioGraph(kept), nil
}

func writeFrame(path string, comp *compositor.Compositor, snap timeline.Snapshot, t float64) error {
	img := comp.Render(snap, t)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(w, img); err != nil {
		f.Close()
		return fmt.Errorf("encode frame %s: %w", filepath.Base(path), err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write frame %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

type reporter struct {
	fn    func(Progress)
	total int
	last  Progress
}

func newReporter(fn func(Progress), total int) *reporter {
	return &reporter{fn: fn, total: total, last: Progress{Percent: -1}}
}

func (r *reporter) frame(done int) {
	r.emit(Progress{
		Percent:     done * framesShare / r.total,
		Stage:       StageFrames,
		Frame:       done,
		TotalFrames: r.total,
	})
}

func (r *reporter) emit(p Progress) {
	if r.fn == nil || (p.Percent == r.last.Percent && p.Stage == r.last.Stage) {
		return
	}
	r.last = p
	r.fn(p)
}

// SnapshotOf builds a read-only snapshot from a layer list and lane settings.
func SnapshotOf(layers []model.Layer, tracks model.Tracks) timeline.Snapshot {
	if tracks == nil {
		tracks = model.DefaultTracks()
	}
	return timeline.Snapshot{Layers: layers, Tracks: tracks, Duration: timeline.Duration(layers)}
}
