package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/onera/studio/internal/client"
	"github.com/onera/studio/internal/compositor"
	"github.com/onera/studio/internal/export"
	"github.com/onera/studio/internal/media"
	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/project"
)

type exportFlags struct {
	output      string
	fps         int
	ffmpeg      string
	ffprobe     string
	seekTimeout time.Duration
	remote      string
	token       string
	poll        time.Duration
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var flags exportFlags

	cmd := &cobra.Command{
		Use:   "export <project>",
		Short: "Render a project to MP4 locally or on a render service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Load(args[0])
			if err != nil {
				return err
			}
			if flags.remote != "" {
				return exportRemote(cmd, ctx, p, flags)
			}
			return exportLocal(cmd, ctx, p, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", export.DefaultOutput, "Output file")
	cmd.Flags().IntVar(&flags.fps, "fps", export.DefaultFPS, "Frames per second")
	cmd.Flags().StringVar(&flags.ffmpeg, "ffmpeg", "ffmpeg", "ffmpeg binary")
	cmd.Flags().StringVar(&flags.ffprobe, "ffprobe", "ffprobe", "ffprobe binary")
	cmd.Flags().DurationVar(&flags.seekTimeout, "seek-timeout", export.DefaultSeekTimeout, "Per-frame media seek timeout")
	cmd.Flags().StringVar(&flags.remote, "remote", "", "Render service base URL; renders remotely when set")
	cmd.Flags().StringVar(&flags.token, "token", os.Getenv("ONERA_TOKEN"), "Bearer token for the render service")
	cmd.Flags().DurationVar(&flags.poll, "poll", client.DefaultPollInterval, "Job status poll interval")
	return cmd
}

func exportLocal(cmd *cobra.Command, ctx *commandContext, p *project.Project, flags exportFlags) error {
	output, err := filepath.Abs(flags.output)
	if err != nil {
		return err
	}
	lock := flock.New(output + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", output, err)
	}
	if !locked {
		return fmt.Errorf("%s is being written by another export", output)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}()

	logger := ctx.logger(cmd)
	store, _ := p.Store()

	library := media.NewLibrary(media.FFmpegOpener(flags.ffmpeg, logger))
	defer library.Close()

	comp := compositor.New(p.Canvas, library, compositor.WithLogger(logger))
	pipeline := export.New(comp, media.NewFFmpeg(flags.ffmpeg, logger), logger)

	progress := newProgressPrinter(cmd.ErrOrStderr())
	res, err := pipeline.Export(cmd.Context(), store.Snapshot(), export.Options{
		FPS:         flags.fps,
		Output:      output,
		WorkDir:     filepath.Dir(output),
		SeekTimeout: flags.seekTimeout,
		OnProgress: func(pr export.Progress) {
			progress.update(pr.Percent, pr.Stage)
		},
		HasAudio: func(ctx context.Context, src string) (bool, error) {
			probe, err := media.Probe(ctx, flags.ffprobe, src)
			if err != nil {
				return false, err
			}
			return probe.HasAudio(), nil
		},
	})
	progress.finish()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d frames, %ss, %d audio)\n", res.Output, res.Frames, seconds(res.Duration), len(res.Audio))
	return nil
}

func exportRemote(cmd *cobra.Command, ctx *commandContext, p *project.Project, flags exportFlags) error {
	store, _ := p.Store()
	snap := store.Snapshot()

	rc := client.NewRenderClient(flags.remote,
		client.WithToken(flags.token),
		client.WithPollInterval(flags.poll),
		client.WithLogger(ctx.logger(cmd)),
	)

	canvas := p.Canvas
	submitted, err := rc.Submit(cmd.Context(), &model.RenderRequest{
		Layers: snap.Layers,
		Canvas: &canvas,
		Tracks: snap.Tracks,
	})
	if err != nil {
		return fmt.Errorf("submit render: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "job %s queued\n", submitted.JobID)

	progress := newProgressPrinter(cmd.ErrOrStderr())
	status, err := rc.Wait(cmd.Context(), submitted.JobID, func(s *model.JobStatusResponse) {
		percent := 0
		switch {
		case s.Progress != nil:
			percent = *s.Progress
		case s.Status == model.JobStatusCompleted:
			percent = 100
		}
		stage := s.CurrentStep
		if stage == "" {
			stage = string(s.Status)
		}
		progress.update(percent, stage)
	})
	progress.finish()
	if err != nil {
		return err
	}

	location := "(no location reported)"
	if r := status.Result; r != nil {
		location = r.VideoURL
		if location == "" {
			location = r.Path
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "job %s completed: %s\n", submitted.JobID, location)
	return nil
}
