package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	"github.com/onera/studio/internal/client"
	"github.com/onera/studio/internal/compositor"
	"github.com/onera/studio/internal/export"
	"github.com/onera/studio/internal/logging"
	"github.com/onera/studio/internal/media"
	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/service"
	"github.com/onera/studio/internal/timeline"
)

const (
	renderKeyTemplate = "renders/%s.mp4"
	videoContentType  = "video/mp4"

	// DownloadURLExpiry matches the lifetime of the job record
	DownloadURLExpiry = 24 * time.Hour
)

// JobTracker records render job state transitions
type JobTracker interface {
	UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error
	CompleteJob(ctx context.Context, jobID string, result *model.JobResult) error
	FailJob(ctx context.Context, jobID string, errMsg string) error
}

// Notifier pushes job events to live subscribers
type Notifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string)
	BroadcastComplete(jobID string, result *model.JobResult)
	BroadcastError(jobID string, code, message string)
}

// RenderOptions tune the frame-accurate export run for each job
type RenderOptions struct {
	FPS           int
	SeekTimeout   time.Duration
	Tolerance     float64
	WorkDir       string
	OutputDir     string
	FFmpegBinary  string
	FFprobeBinary string
}

// RenderWorker processes render jobs: it rebuilds the timeline from the task
// payload, runs the export pipeline and publishes the encoded video.
type RenderWorker struct {
	jobs     JobTracker
	storage  client.StorageClient
	notifier Notifier
	opts     RenderOptions
	logger   *slog.Logger

	opener   media.Opener
	encoder  media.Encoder
	hasAudio func(ctx context.Context, src string) (bool, error)
}

// RenderWorkerOption configures a RenderWorker
type RenderWorkerOption func(*RenderWorker)

// WithOpener replaces the ffmpeg-backed media opener
func WithOpener(open media.Opener) RenderWorkerOption {
	return func(w *RenderWorker) { w.opener = open }
}

// WithEncoder replaces the ffmpeg encoder
func WithEncoder(enc media.Encoder) RenderWorkerOption {
	return func(w *RenderWorker) { w.encoder = enc }
}

// WithAudioProbe replaces the ffprobe audio stream check. Nil mixes every audible layer.
func WithAudioProbe(fn func(ctx context.Context, src string) (bool, error)) RenderWorkerOption {
	return func(w *RenderWorker) { w.hasAudio = fn }
}

// WithLogger sets the worker logger
func WithLogger(logger *slog.Logger) RenderWorkerOption {
	return func(w *RenderWorker) { w.logger = logger }
}

// NewRenderWorker creates a new render worker. storage may be nil, in which case
// finished videos are kept under opts.OutputDir. notifier may be nil.
func NewRenderWorker(jobs JobTracker, storage client.StorageClient, notifier Notifier, opts RenderOptions, options ...RenderWorkerOption) *RenderWorker {
	w := &RenderWorker{
		jobs:     jobs,
		storage:  storage,
		notifier: notifier,
		opts:     opts,
	}
	for _, opt := range options {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "render-worker")
	if w.opener == nil {
		w.opener = media.FFmpegOpener(opts.FFmpegBinary, w.logger)
	}
	if w.encoder == nil {
		w.encoder = media.NewFFmpeg(opts.FFmpegBinary, w.logger)
	}
	if w.hasAudio == nil {
		probe := opts.FFprobeBinary
		w.hasAudio = func(ctx context.Context, src string) (bool, error) {
			res, err := media.Probe(ctx, probe, src)
			if err != nil {
				return false, err
			}
			return res.HasAudio(), nil
		}
	}
	return w
}

// ProcessTask handles render task processing. Jobs are never retried; a failed
// render is recorded on the job and the task is skipped.
func (w *RenderWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	rt, err := service.ParseRenderTask(t)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	jobID := rt.JobID
	logger := w.logger.With(slog.String(logging.FieldJobID, jobID))
	logger.Info("render job started", slog.Int("layers", len(rt.Payload.Layers)))

	w.updateProgress(ctx, jobID, 0, "preparing")

	result, err := w.render(ctx, logger, jobID, rt.Payload)
	if err != nil {
		w.failJob(ctx, jobID, err.Error())
		logger.Error("render job failed", logging.Error(err))
		return fmt.Errorf("render job %s: %w: %w", jobID, err, asynq.SkipRetry)
	}

	if err := w.jobs.CompleteJob(ctx, jobID, result); err != nil {
		logger.Error("failed to save result", logging.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if w.notifier != nil {
		w.notifier.BroadcastComplete(jobID, result)
	}
	logger.Info("render job completed", slog.Int(logging.FieldFrames, result.Frames))
	return nil
}

func (w *RenderWorker) render(ctx context.Context, logger *slog.Logger, jobID string, payload model.RenderJobPayload) (*model.JobResult, error) {
	store := timeline.NewStore()
	if dropped := store.Load(payload.Layers, payload.Tracks); dropped > 0 {
		logger.Warn("dropped invalid layers", slog.Int("count", dropped))
	}

	library := media.NewLibrary(w.opener)
	defer func() {
		if err := library.Close(); err != nil {
			logger.Warn("failed to close media sources", logging.Error(err))
		}
	}()

	comp := compositor.New(payload.Canvas, library,
		compositor.WithTolerance(w.opts.Tolerance),
		compositor.WithLogger(w.logger),
	)
	pipeline := export.New(comp, w.encoder, w.logger)

	if err := os.MkdirAll(w.workDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	output := filepath.Join(w.workDir(), jobID+".mp4")
	defer os.Remove(output)

	res, err := pipeline.Export(ctx, store.Snapshot(), export.Options{
		FPS:         w.opts.FPS,
		Output:      output,
		WorkDir:     w.workDir(),
		SeekTimeout: w.opts.SeekTimeout,
		HasAudio:    w.hasAudio,
		OnProgress: func(p export.Progress) {
			w.updateProgress(ctx, jobID, p.Percent, p.Stage)
		},
	})
	if err != nil {
		return nil, err
	}

	result := &model.JobResult{Frames: res.Frames, Duration: res.Duration}
	if w.storage != nil {
		url, err := w.upload(ctx, jobID, res.Output)
		if err != nil {
			return nil, err
		}
		result.VideoURL = url
		return result, nil
	}

	path, err := w.keep(jobID, res.Output)
	if err != nil {
		return nil, err
	}
	result.Path = path
	return result, nil
}

func (w *RenderWorker) upload(ctx context.Context, jobID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open render: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf(renderKeyTemplate, jobID)
	url, err := w.storage.Upload(ctx, key, f, videoContentType)
	if err != nil {
		return "", fmt.Errorf("upload render: %w", err)
	}
	if w.storage.HasPublicURL() {
		return url, nil
	}

	signed, err := w.storage.GetSignedURL(ctx, key, DownloadURLExpiry)
	if err != nil {
		if delErr := w.storage.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			w.logger.Warn("failed to remove unsigned render", slog.String(logging.FieldJobID, jobID), logging.Error(delErr))
		}
		return "", fmt.Errorf("sign render url: %w", err)
	}
	return signed, nil
}

// keep moves the finished video into the output directory and returns its absolute path
func (w *RenderWorker) keep(jobID, path string) (string, error) {
	dir := w.opts.OutputDir
	if dir == "" {
		dir = "renders"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	dest, err := filepath.Abs(filepath.Join(dir, jobID+".mp4"))
	if err != nil {
		return "", err
	}
	if err := os.Rename(path, dest); err == nil {
		return dest, nil
	}
	if err := copyFile(path, dest); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("store render: %w", err)
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (w *RenderWorker) workDir() string {
	if w.opts.WorkDir != "" {
		return w.opts.WorkDir
	}
	return os.TempDir()
}

func (w *RenderWorker) updateProgress(ctx context.Context, jobID string, progress int, step string) {
	if err := w.jobs.UpdateJobProgress(ctx, jobID, progress, step); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Warn("failed to update progress", slog.String(logging.FieldJobID, jobID), logging.Error(err))
	}
	if w.notifier != nil {
		w.notifier.BroadcastProgress(jobID, progress, model.JobStatusPending, step)
	}
}

// failJob records the failure even when ctx was cancelled by shutdown or timeout
func (w *RenderWorker) failJob(ctx context.Context, jobID, errMsg string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.jobs.FailJob(ctx, jobID, errMsg); err != nil {
		w.logger.Error("failed to mark job as failed", slog.String(logging.FieldJobID, jobID), logging.Error(err))
	}
	if w.notifier != nil {
		w.notifier.BroadcastError(jobID, "RENDER_FAILED", errMsg)
	}
}
