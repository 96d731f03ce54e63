package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// progressPrinter redraws a single status line on terminals and prints one line
// per stage otherwise.
type progressPrinter struct {
	w         io.Writer
	live      bool
	lastStage string
	drawn     bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, live: isTerminal(w)}
}

func (p *progressPrinter) update(percent int, stage string) {
	if p.live {
		fmt.Fprintf(p.w, "\r%-18s %3d%%", stage, percent)
		p.drawn = true
		return
	}
	if stage != p.lastStage {
		fmt.Fprintf(p.w, "%s (%d%%)\n", stage, percent)
		p.lastStage = stage
	}
}

func (p *progressPrinter) finish() {
	if p.drawn {
		fmt.Fprintln(p.w)
		p.drawn = false
	}
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
