package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onera/studio/internal/interaction"
	"github.com/onera/studio/internal/timeline"
)

type gestureFlags struct {
	dx   float64
	zoom float64
}

func (f *gestureFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.dx, "dx", 0, "Pointer travel in pixels (negative moves left)")
	cmd.Flags().Float64Var(&f.zoom, "zoom", interaction.DefaultZoom, "Timeline scale in pixels per second")
}

// drag replays one pointer gesture on layer id: down at x=0, move to dx, up.
func drag(cmd *cobra.Command, s *timeline.Store, id string, resize bool, edge interaction.Edge, f gestureFlags) error {
	m := interaction.NewMachine(s, f.zoom)
	if !m.PointerDown(id, resize, edge, 0) {
		return fmt.Errorf("%s: %w (unknown layer or locked track)", id, errNoChange)
	}
	defer m.PointerUp()
	if !m.PointerMove(f.dx) {
		return fmt.Errorf("%s: %w", id, errNoChange)
	}

	for _, l := range s.Snapshot().Layers {
		if l.ID == id {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s-%s  trim %s\n", id, seconds(l.Start), seconds(l.End), seconds(l.TrimStart))
		}
	}
	return nil
}

func newMoveCommand() *cobra.Command {
	var flags gestureFlags

	cmd := &cobra.Command{
		Use:   "move <project> <layer-id>",
		Short: "Drag a layer along the timeline, snapping to nearby edges in magnetic mode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editProject(args[0], func(s *timeline.Store) error {
				return drag(cmd, s, args[1], false, interaction.EdgeLeft, flags)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newTrimCommand() *cobra.Command {
	var flags gestureFlags
	var edge string

	cmd := &cobra.Command{
		Use:   "trim <project> <layer-id>",
		Short: "Drag the left or right edge of a layer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var e interaction.Edge
			switch edge {
			case "left":
				e = interaction.EdgeLeft
			case "right":
				e = interaction.EdgeRight
			default:
				return fmt.Errorf("invalid edge %q: want left or right", edge)
			}
			return editProject(args[0], func(s *timeline.Store) error {
				return drag(cmd, s, args[1], true, e, flags)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&edge, "edge", "right", "Edge to drag (left, right)")
	return cmd
}
