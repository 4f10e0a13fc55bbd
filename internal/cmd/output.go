package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/illmade-knight/backpack/pkg/dispatcher"
	"github.com/illmade-knight/backpack/pkg/types"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
)

// printer writes CLI output, colored only when w is a terminal.
type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w}
	if f, ok := w.(*os.File); ok {
		p.color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return p
}

func (p *printer) println(a ...any) {
	fmt.Fprintln(p.w, a...)
}

func (p *printer) printf(format string, a ...any) {
	fmt.Fprintf(p.w, format, a...)
}

func (p *printer) colored(color, s string) {
	if p.color {
		fmt.Fprintln(p.w, color+s+colorReset)
		return
	}
	fmt.Fprintln(p.w, s)
}

func (p *printer) rule() { p.println("------") }

// earthquake prints one record on a line: id, time, magnitude, position and depth.
func (p *printer) earthquake(r types.Record) {
	ts := "-"
	if v, ok := r["timestamp"].(int64); ok {
		ts = time.Unix(v, 0).UTC().Format(time.RFC3339)
	}
	p.printf("%v  %s  mag %v  (%v, %v)  depth %v km\n",
		r["id"], ts, valueOr(r, "magnitude"), r["latitude"], r["longitude"], r["depth"])
}

func valueOr(r types.Record, field string) any {
	if v, ok := r[field]; ok {
		return v
	}
	return "-"
}

// outcome renders the three-tier status: green for success, yellow for a warning
// and red for an error. Annotations follow on their own lines.
func (p *printer) outcome(o dispatcher.Outcome) {
	switch o.Status {
	case dispatcher.StatusSuccess:
		p.colored(colorGreen, o.Message)
	case dispatcher.StatusWarning:
		p.colored(colorYellow, o.Message)
	default:
		p.colored(colorRed, o.Message)
	}
	for _, a := range o.Annotations {
		p.println("  " + a)
	}
}
