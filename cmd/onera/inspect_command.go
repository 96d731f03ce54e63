package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/project"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <project>",
		Short: "List the layers and tracks of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Load(args[0])
			if err != nil {
				return err
			}
			store, dropped := p.Store()
			snap := store.Snapshot()

			name := p.Name
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %dx%d  %s  duration %ss\n", name, p.Canvas.Width, p.Canvas.Height, p.Canvas.BgColor, seconds(snap.Duration))
			if dropped > 0 {
				fmt.Fprintf(out, "%d invalid layer(s) ignored\n", dropped)
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Kind", "Track", "Start", "End", "Trim", "Source"},
				layerRows(snap.Layers),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintln(out, renderTable(
				[]string{"Track", "Locked", "Muted", "Solo", "Height"},
				trackRows(snap.Tracks),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}

func layerRows(layers []model.Layer) [][]string {
	rows := make([][]string, 0, len(layers))
	for _, l := range layers {
		kind := string(l.Type)
		if l.Subtype != "" {
			kind += "/" + l.Subtype
		}
		source := l.Src
		if source == "" {
			source = strconv.Quote(truncate(l.Content, 32))
		}
		rows = append(rows, []string{
			l.ID,
			kind,
			string(l.Track()),
			seconds(l.Start),
			seconds(l.End),
			seconds(l.TrimStart),
			source,
		})
	}
	return rows
}

func trackRows(tracks model.Tracks) [][]string {
	rows := make([][]string, 0, len(model.TrackTypes))
	for _, tt := range model.TrackTypes {
		s := tracks[tt]
		rows = append(rows, []string{
			string(tt),
			flag(s.Locked),
			flag(s.Muted),
			flag(s.Solo),
			strconv.Itoa(s.Height),
		})
	}
	return rows
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func flag(on bool) string {
	if on {
		return "yes"
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
