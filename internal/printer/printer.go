// SPDX-License-Identifier: Apache-2.0

// Package printer writes the colored command-line summary of a run.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Printer writes messages to out and errors to errOut.
type Printer struct {
	out    io.Writer
	errOut io.Writer
}

// New returns a Printer writing to out and errOut; nil writers default to
// stdout and stderr.
func New(out, errOut io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Printer{out: out, errOut: errOut}
}

// Success prints a green line with a checkmark.
func (p *Printer) Success(format string, a ...any) {
	green.Fprintf(p.out, "✓ %s\n", fmt.Sprintf(format, a...))
}

// Info prints an uncolored line.
func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.out, format+"\n", a...)
}

// Warning prints a yellow line with a warning sign.
func (p *Printer) Warning(format string, a ...any) {
	yellow.Fprintf(p.out, "⚠️  %s\n", fmt.Sprintf(format, a...))
}

// Step prints a cyan progress line.
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s\n", fmt.Sprintf(format, a...))
}

// Error prints title, explanation and suggestions to errOut and returns an
// error carrying only the title, for commands that silence cobra's own output.
func (p *Printer) Error(title, explanation string, suggestions []string) error {
	red.Fprintf(p.errOut, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(p.errOut, "%s\n", strings.TrimRight(explanation, "\n"))
	}
	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(p.errOut, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.errOut, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(p.errOut, "  %d. %s\n", i+1, s)
		}
	}
	return fmt.Errorf("%s", title)
}
