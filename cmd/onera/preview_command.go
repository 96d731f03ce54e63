package main

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/onera/studio/internal/compositor"
	"github.com/onera/studio/internal/media"
	"github.com/onera/studio/internal/playback"
	"github.com/onera/studio/internal/project"
	"github.com/onera/studio/internal/timeline"
)

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var (
		at        float64
		output    string
		ffmpeg    string
		tolerance float64
	)

	cmd := &cobra.Command{
		Use:   "preview <project>",
		Short: "Render the frame under the playhead to a PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Load(args[0])
			if err != nil {
				return err
			}
			store, _ := p.Store()
			store.Seek(at)
			snap := store.Snapshot()

			logger := ctx.logger(cmd)
			library := media.NewLibrary(media.FFmpegOpener(ffmpeg, logger))
			defer library.Close()
			comp := compositor.New(p.Canvas, library,
				compositor.WithTolerance(tolerance),
				compositor.WithLogger(logger),
			)

			if _, err := comp.Sync(cmd.Context(), snap, snap.CurrentTime); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: some layers are missing from the frame: %v\n", err)
			}
			frame := comp.Render(snap, snap.CurrentTime)

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := png.Encode(f, frame); err != nil {
				f.Close()
				return fmt.Errorf("encode %s: %w", output, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			b := frame.Bounds()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d at %ss)\n", output, b.Dx(), b.Dy(), seconds(snap.CurrentTime))
			return nil
		},
	}

	cmd.Flags().Float64Var(&at, "at", 0, "Playhead position in seconds")
	cmd.Flags().StringVarP(&output, "output", "o", "preview.png", "Output PNG")
	cmd.Flags().StringVar(&ffmpeg, "ffmpeg", "ffmpeg", "ffmpeg binary")
	cmd.Flags().Float64Var(&tolerance, "tolerance", compositor.DefaultTolerance, "Allowed source drift in seconds")
	return cmd
}

func newPlayCommand() *cobra.Command {
	var (
		from     float64
		limit    time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "play <project>",
		Short: "Run the playhead in real time and report where it stops",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Load(args[0])
			if err != nil {
				return err
			}
			store, _ := p.Store()
			store.Seek(from)

			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if limit > 0 {
				runCtx, cancel = context.WithTimeout(runCtx, limit)
				defer cancel()
			}

			printer := newProgressPrinter(cmd.OutOrStdout())
			unsubscribe := store.Subscribe(func(snap timeline.Snapshot) {
				if printer.live {
					printer.update(percentOf(snap.CurrentTime, snap.Duration), "playing "+seconds(round(snap.CurrentTime))+"s")
				}
			})
			defer unsubscribe()

			reachedEnd := false
			clock := playback.New(store, playback.WithOnStop(func() {
				reachedEnd = true
				cancel()
			}))
			clock.Play()
			err = clock.Run(runCtx, interval)
			clock.Pause()
			printer.finish()

			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if cmd.Context().Err() != nil {
				return cmd.Context().Err()
			}
			state := "paused"
			if reachedEnd {
				state = "reached end"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s at %ss of %ss\n", state, seconds(round(store.CurrentTime())), seconds(store.Duration()))
			return nil
		},
	}

	cmd.Flags().Float64Var(&from, "from", 0, "Start position in seconds")
	cmd.Flags().DurationVar(&limit, "for", 0, "Stop after this much wall time (0 plays to the end)")
	cmd.Flags().DurationVar(&interval, "interval", playback.DefaultInterval, "Tick interval")
	return cmd
}

func percentOf(t, duration float64) int {
	if duration <= 0 {
		return 100
	}
	return int(t / duration * 100)
}

// round keeps two decimals for display.
func round(v float64) float64 {
	return math.Round(v*100) / 100
}
