// Package status implements the build-time progress reporter: a
// LinePrinter that overprints a single status line on a smart terminal
// and falls back to plain newline-per-line output otherwise, plus a
// NINJA_STATUS-style formatter. Grounded in the teacher's
// ninja-go/line_printer.go and status_printer.go, colorized with
// github.com/fatih/color per SPEC_FULL.md §4.12.
package status

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/kiln-build/kiln/internal/explain"
	"github.com/kiln-build/kiln/internal/graph"
)

// LineType controls whether Print elides to_print to fit the terminal
// width (ELIDE) or prints it verbatim followed by a newline (FULL).
type LineType int8

const (
	Full LineType = iota
	Elide
)

// LinePrinter overprints the current status line on a smart terminal,
// or degrades to one line per call when stdout isn't a TTY or $TERM is
// "dumb".
type LinePrinter struct {
	smartTerminal bool
	haveBlankLine bool
	consoleLocked bool
	lineBuffer    string
	lineType      LineType
	outputBuffer  string
}

func NewLinePrinter() *LinePrinter {
	term := os.Getenv("TERM")
	smart := isatty.IsTerminal(os.Stdout.Fd()) && term != "" && term != "dumb"
	return &LinePrinter{smartTerminal: smart, haveBlankLine: true}
}

func (p *LinePrinter) IsSmartTerminal() bool        { return p.smartTerminal }
func (p *LinePrinter) SetSmartTerminal(smart bool)  { p.smartTerminal = smart }

// Print overprints the current line on a smart terminal; on a plain
// terminal it always starts a fresh line.
func (p *LinePrinter) Print(toPrint string, lineType LineType) {
	if p.consoleLocked {
		p.lineBuffer = toPrint
		p.lineType = lineType
		return
	}
	if p.smartTerminal {
		fmt.Print("\r")
	}
	if p.smartTerminal && lineType == Elide {
		fmt.Print(elideMiddle(toPrint, terminalWidth()))
		fmt.Print("\033[K")
	} else {
		fmt.Printf("%s\n", toPrint)
	}
	p.haveBlankLine = false
}

// PrintOnNewLine flushes any buffered status line first, then prints
// toPrint without overwriting it later.
func (p *LinePrinter) PrintOnNewLine(toPrint string) {
	if p.consoleLocked && p.lineBuffer != "" {
		p.outputBuffer += p.lineBuffer + "\n"
		p.lineBuffer = ""
	}
	if !p.haveBlankLine {
		p.printOrBuffer("\n")
	}
	if toPrint != "" {
		p.printOrBuffer(toPrint)
	}
	p.haveBlankLine = toPrint == "" || strings.HasSuffix(toPrint, "\n")
}

// SetConsoleLocked buffers output instead of printing it while a
// console-pool edge owns the terminal.
func (p *LinePrinter) SetConsoleLocked(locked bool) {
	if locked == p.consoleLocked {
		return
	}
	if locked {
		p.PrintOnNewLine("")
	}
	p.consoleLocked = locked
	if !locked {
		p.PrintOnNewLine(p.outputBuffer)
		if p.lineBuffer != "" {
			p.Print(p.lineBuffer, p.lineType)
		}
		p.outputBuffer, p.lineBuffer = "", ""
	}
}

func (p *LinePrinter) printOrBuffer(data string) {
	if p.consoleLocked {
		p.outputBuffer += data
	} else {
		fmt.Fprint(os.Stdout, data)
	}
}

func terminalWidth() int { return 80 }

func elideMiddle(s string, width int) string {
	if len(s) <= width {
		return s
	}
	half := (width - 3) / 2
	if half <= 0 {
		return s[:width]
	}
	return s[:half] + "..." + s[len(s)-half:]
}

// Printer tracks build progress and emits status lines and diagnostics,
// grounded in the teacher's StatusPrinter.
type Printer struct {
	printer *LinePrinter
	explain *explain.Log

	verbosity    Verbosity
	format       string

	totalEdges    int
	startedEdges  int
	finishedEdges int
	runningEdges  int
	timeMillis    int64
}

// Verbosity mirrors the teacher's BuildConfig verbosity levels.
type Verbosity int

const (
	Normal Verbosity = iota
	Quiet
	Verbose
)

func New(verbosity Verbosity, exp *explain.Log) *Printer {
	p := &Printer{printer: NewLinePrinter(), explain: exp, verbosity: verbosity}
	if verbosity != Normal {
		p.printer.SetSmartTerminal(false)
	}
	p.format = os.Getenv("NINJA_STATUS")
	if p.format == "" {
		p.format = "[%f/%t] "
	}
	return p
}

func (p *Printer) EdgeAddedToPlan()     { p.totalEdges++ }
func (p *Printer) EdgeRemovedFromPlan() { p.totalEdges-- }

// BuildEdgeStarted records edge dispatch and, on a smart terminal or for
// a console-owning edge, prints the progress line immediately.
func (p *Printer) BuildEdgeStarted(e *graph.Edge, startMS int64) {
	p.startedEdges++
	p.runningEdges++
	p.timeMillis = startMS

	if e.UseConsole() || p.printer.IsSmartTerminal() {
		p.printStatusLine(e, startMS)
	}
	if e.UseConsole() {
		p.printer.SetConsoleLocked(true)
	}
}

// BuildEdgeFinished records completion, prints the trailing status line
// and, on failure, the command and its captured output.
func (p *Printer) BuildEdgeFinished(e *graph.Edge, startMS, endMS int64, success bool, output string) {
	p.timeMillis = endMS
	p.finishedEdges++

	if e.UseConsole() {
		p.printer.SetConsoleLocked(false)
	}
	if p.verbosity == Quiet {
		return
	}
	if !e.UseConsole() {
		p.printStatusLine(e, endMS)
	}
	p.runningEdges--

	if !success {
		var outputs strings.Builder
		for _, o := range e.Outputs() {
			outputs.WriteString(o.Path())
			outputs.WriteByte(' ')
		}
		p.printer.PrintOnNewLine(color.RedString("FAILED: ") + outputs.String() + "\n")
		p.printer.PrintOnNewLine(e.EvaluateCommand() + "\n")
	}

	if output != "" {
		p.printer.PrintOnNewLine(output)
	}
}

func (p *Printer) BuildStarted() {
	p.startedEdges, p.finishedEdges, p.runningEdges = 0, 0, 0
}

func (p *Printer) BuildFinished() {
	p.printer.SetConsoleLocked(false)
	p.printer.PrintOnNewLine("")
}

func (p *Printer) printStatusLine(e *graph.Edge, nowMS int64) {
	line := p.FormatProgressStatus(p.format, nowMS)
	if desc := e.GetBinding("description"); desc != "" && p.verbosity != Verbose {
		line += desc
	} else {
		line += e.EvaluateCommand()
	}
	p.printer.Print(line, Elide)
}

// FormatProgressStatus expands the NINJA_STATUS placeholders %s %t %r %u
// %f %p %e against the current counters, grounded in the teacher's
// FormatProgressStatus.
func (p *Printer) FormatProgressStatus(format string, nowMS int64) string {
	var out strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			out.WriteByte(c)
			continue
		}
		i++
		switch format[i] {
		case '%':
			out.WriteByte('%')
		case 's':
			fmt.Fprintf(&out, "%d", p.startedEdges)
		case 't':
			fmt.Fprintf(&out, "%d", p.totalEdges)
		case 'r':
			fmt.Fprintf(&out, "%d", p.runningEdges)
		case 'u':
			fmt.Fprintf(&out, "%d", p.totalEdges-p.startedEdges)
		case 'f':
			fmt.Fprintf(&out, "%d", p.finishedEdges)
		case 'p':
			percent := 0
			if p.finishedEdges != 0 && p.totalEdges != 0 {
				percent = 100 * p.finishedEdges / p.totalEdges
			}
			fmt.Fprintf(&out, "%3d%%", percent)
		case 'e':
			fmt.Fprintf(&out, "%.3f", float64(nowMS)/1000)
		default:
			out.WriteByte('%')
			out.WriteByte(format[i])
		}
	}
	return out.String()
}

// Explain surfaces the accumulated explanation log, for `kiln -d
// explain`, in blue when color is supported.
func (p *Printer) Explain() {
	if p.explain == nil {
		return
	}
	for _, line := range p.explain.Lines() {
		p.printer.PrintOnNewLine(color.BlueString(line) + "\n")
	}
}

// Error prints a fatal diagnostic in red, for top-level CLI error
// reporting.
func (p *Printer) Error(format string, args ...interface{}) {
	p.printer.PrintOnNewLine(color.RedString("kiln: error: "+format, args...) + "\n")
}

func (p *Printer) Since(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
