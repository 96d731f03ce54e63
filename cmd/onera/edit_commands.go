package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/project"
	"github.com/onera/studio/internal/timeline"
)

var errNoChange = errors.New("no change")

func newEditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Modify a project file in place",
	}
	cmd.AddCommand(
		newSplitCommand(),
		newDeleteCommand(),
		newAddCommand(),
		newSetCommand(),
		newTrackCommand(),
		newMoveCommand(),
		newTrimCommand(),
	)
	return cmd
}

// editProject loads path into a layer store, applies fn and writes the result back.
func editProject(path string, fn func(*timeline.Store) error) error {
	p, err := project.Load(path)
	if err != nil {
		return err
	}
	store, _ := p.Store()
	if err := fn(store); err != nil {
		return err
	}
	p.Update(store.Snapshot())
	return project.Save(path, p)
}

func newSplitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "split <project> <layer-id> <seconds>",
		Short: "Cut a layer in two at a timeline time",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid time %q: %w", args[2], err)
			}
			return editProject(args[0], func(s *timeline.Store) error {
				id, ok := s.SplitLayer(args[1], at)
				if !ok {
					return fmt.Errorf("split %s at %ss: %w (unknown layer, locked track or time outside the layer)", args[1], args[2], errNoChange)
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project> <layer-id>",
		Short: "Remove a layer, rippling later layers of the same kind when ripple is on",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editProject(args[0], func(s *timeline.Store) error {
				if !s.DeleteLayer(args[1]) {
					return fmt.Errorf("delete %s: %w (unknown layer or locked track)", args[1], errNoChange)
				}
				return nil
			})
		},
	}
}

func newAddCommand() *cobra.Command {
	var (
		kind    string
		subtype string
		src     string
		content string
		at      float64
	)

	cmd := &cobra.Command{
		Use:   "add <project>",
		Short: "Add a layer at a timeline time, or after the last clip of its track in magnetic mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := model.LayerKind(kind)
			if !k.Valid() {
				return fmt.Errorf("unknown layer kind %q", kind)
			}
			return editProject(args[0], func(s *timeline.Store) error {
				s.Seek(at)
				var layer model.Layer
				switch k {
				case model.LayerMedia, model.LayerAudio:
					if src == "" {
						return fmt.Errorf("--src is required for %s layers", k)
					}
					if k == model.LayerAudio {
						subtype = model.SubtypeAudio
					}
					if subtype == "" {
						subtype = model.SubtypeVideo
					}
					layer = s.AddToTrack(model.Asset{Src: src, Type: subtype, Name: content})
				default:
					layer = s.AddLayer(k, content, model.Layer{Subtype: subtype, Src: src})
				}
				fmt.Fprintln(cmd.OutOrStdout(), layer.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(model.LayerText), "Layer kind (media, audio, text, subtitle, element)")
	cmd.Flags().StringVar(&subtype, "subtype", "", "Layer subtype (video, image, shape, icon, progress)")
	cmd.Flags().StringVar(&src, "src", "", "Source path or URL")
	cmd.Flags().StringVar(&content, "content", "", "Text content or asset name")
	cmd.Flags().Float64Var(&at, "at", 0, "Playhead position in seconds")
	return cmd
}

func newSetCommand() *cobra.Command {
	var start, end, trim float64
	var muted bool

	cmd := &cobra.Command{
		Use:   "set <project> <layer-id>",
		Short: "Change the timing or mute flag of a layer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch model.LayerPatch
			flags := cmd.Flags()
			if flags.Changed("start") {
				patch.Start = model.Float(start)
			}
			if flags.Changed("end") {
				patch.End = model.Float(end)
			}
			if flags.Changed("trim") {
				patch.TrimStart = model.Float(trim)
			}
			if flags.Changed("muted") {
				patch.Muted = &muted
			}
			return editProject(args[0], func(s *timeline.Store) error {
				if !s.UpdateLayer(args[1], patch) {
					return fmt.Errorf("set %s: %w (unknown layer, locked track or invalid timing)", args[1], errNoChange)
				}
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&start, "start", 0, "Start time in seconds")
	cmd.Flags().Float64Var(&end, "end", 0, "End time in seconds")
	cmd.Flags().Float64Var(&trim, "trim", 0, "Source offset in seconds")
	cmd.Flags().BoolVar(&muted, "muted", false, "Mute the layer in exports")
	return cmd
}

func newTrackCommand() *cobra.Command {
	var lock, mute, solo bool
	var height int

	cmd := &cobra.Command{
		Use:   "track <project> <media|audio|text|subtitle>",
		Short: "Toggle the lock, mute or solo flag of a track, or set its height",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			track := model.TrackType(args[1])
			return editProject(args[0], func(s *timeline.Store) error {
				changed := false
				if lock {
					changed = s.ToggleTrackLock(track) || changed
				}
				if mute {
					changed = s.ToggleTrackMute(track) || changed
				}
				if solo {
					changed = s.ToggleTrackSolo(track) || changed
				}
				if height > 0 {
					changed = s.SetTrackHeight(track, height) || changed
				}
				if !changed {
					return fmt.Errorf("track %s: %w", track, errNoChange)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&lock, "lock", false, "Toggle the lock flag")
	cmd.Flags().BoolVar(&mute, "mute", false, "Toggle the mute flag")
	cmd.Flags().BoolVar(&solo, "solo", false, "Toggle the solo flag")
	cmd.Flags().IntVar(&height, "height", 0, "Track height in pixels")
	return cmd
}
