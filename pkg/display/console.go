package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"imgload/pkg/common"

	"github.com/mattn/go-isatty"
)

const clearLine = "\x1b[1A\x1b[2K"

// consoleDisplay handles terminal output. With ansi set, live task lines are
// redrawn in place below the log; without it only stage changes and
// completions are printed.
// Mutable
type consoleDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	ansi    bool
	verbose bool
	tasks   []*consoleTask
	drawn   int
}

// NewConsole creates a Display that writes to standard error, redrawing task
// lines only when standard error is a terminal.
func NewConsole() Display {
	return &consoleDisplay{
		out:  os.Stderr,
		ansi: isatty.IsTerminal(os.Stderr.Fd()),
	}
}

// NewWriterDisplay creates a Display that writes to the provided io.Writer
// and redraws task lines with ANSI sequences.
func NewWriterDisplay(w io.Writer) Display {
	return &consoleDisplay{
		out:  w,
		ansi: true,
	}
}

// NewPlain creates a Display for logs and pipes: no escape sequences.
func NewPlain(w io.Writer) Display {
	return &consoleDisplay{out: w}
}

func (d *consoleDisplay) StartTask(name string) Task {
	t := &consoleTask{d: d, name: name}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked()
	d.tasks = append(d.tasks, t)
	if !d.ansi {
		fmt.Fprintf(d.out, "[%s] started\n", name)
	}
	d.drawLocked()
	return t
}

func (d *consoleDisplay) Log(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.verbose {
		return
	}
	d.printLocked(msg)
}

// Print writes a message directly to the output writer.
func (d *consoleDisplay) Print(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked()
	fmt.Fprint(d.out, msg)
	d.drawLocked()
}

// RenderOutput displays structured data from an Output struct to the console.
func (d *consoleDisplay) RenderOutput(out *common.Output) {
	if s := renderOutput(out); s != "" {
		d.Print(s)
	}
}

func (d *consoleDisplay) SetVerbose(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verbose = v
}

func (d *consoleDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked()
	d.tasks = nil
}

func (d *consoleDisplay) printLocked(msg string) {
	d.clearLocked()
	fmt.Fprintln(d.out, strings.TrimRight(msg, "\n"))
	d.drawLocked()
}

func (d *consoleDisplay) clearLocked() {
	if !d.ansi {
		return
	}
	fmt.Fprint(d.out, strings.Repeat(clearLine, d.drawn))
	d.drawn = 0
}

func (d *consoleDisplay) drawLocked() {
	if !d.ansi {
		return
	}
	for _, t := range d.tasks {
		fmt.Fprintln(d.out, t.line())
	}
	d.drawn = len(d.tasks)
}

func (d *consoleDisplay) remove(t *consoleTask) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked()
	for i, other := range d.tasks {
		if other == t {
			d.tasks = append(d.tasks[:i], d.tasks[i+1:]...)
			break
		}
	}
	fmt.Fprintf(d.out, "[%s] Done\n", t.name)
	d.drawLocked()
}

// Mutable
type consoleTask struct {
	d       *consoleDisplay
	name    string
	stage   string
	target  string
	percent int
	message string
}

func (t *consoleTask) line() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]", t.name)
	if t.stage != "" {
		sb.WriteString(" " + t.stage)
	}
	if t.target != "" {
		sb.WriteString(" " + t.target)
	}
	if t.percent > 0 {
		fmt.Fprintf(&sb, " %d%%", t.percent)
	}
	if t.message != "" {
		sb.WriteString(" " + t.message)
	}
	return sb.String()
}

func (t *consoleTask) Log(msg string) {
	t.d.Log(msg)
}

func (t *consoleTask) SetStage(name string, target string) {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked()
	t.stage, t.target = name, target
	if !d.ansi {
		fmt.Fprintln(d.out, t.line())
	}
	d.drawLocked()
}

func (t *consoleTask) Progress(percent int, message string) {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked()
	t.percent, t.message = clampPercent(percent), message
	d.drawLocked()
}

func (t *consoleTask) Done() {
	t.d.remove(t)
}

func clampPercent(p int) int {
	return max(0, min(100, p))
}

func renderOutput(out *common.Output) string {
	if out == nil {
		return ""
	}
	var sb strings.Builder
	if out.Message != "" {
		sb.WriteString(out.Message + "\n")
	}
	for _, kv := range out.KV {
		fmt.Fprintf(&sb, "%-12s %s\n", kv.Key+":", kv.Value)
	}
	if out.Table != nil {
		renderTable(&sb, out.Table)
	}
	return sb.String()
}

func renderTable(sb *strings.Builder, t *common.Table) {
	if len(t.Header) == 0 {
		return
	}

	// Simple column width calculation
	widths := make([]int, len(t.Header))
	for i, h := range t.Header {
		widths[i] = len(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	writeRow := func(cells []string) {
		var line strings.Builder
		for i, cell := range cells {
			if i < len(widths) {
				fmt.Fprintf(&line, "%-*s  ", widths[i], cell)
			}
		}
		sb.WriteString(strings.TrimRight(line.String(), " ") + "\n")
	}

	writeRow(t.Header)
	totalWidth := 0
	for _, w := range widths {
		totalWidth += w + 2
	}
	sb.WriteString(strings.Repeat("-", totalWidth-2) + "\n")
	for _, row := range t.Rows {
		writeRow(row)
	}
}
