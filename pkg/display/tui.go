package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"imgload/pkg/common"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// New picks the live TUI when f is a terminal and plain is false, and plain
// line output otherwise.
func New(f *os.File, plain bool) Display {
	if !plain && isatty.IsTerminal(f.Fd()) {
		return NewTUI(f)
	}
	return NewPlain(f)
}

type (
	tuiStartMsg struct {
		id   int64
		name string
	}
	tuiStageMsg struct {
		id            int64
		stage, target string
	}
	tuiProgressMsg struct {
		id      int64
		percent int
		message string
	}
	tuiDoneMsg  struct{ id int64 }
	tuiPrintMsg struct{ text string }
	tuiQuitMsg  struct{}
)

var (
	tuiName = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	tuiDim  = lipgloss.NewStyle().Faint(true)
	tuiDone = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

type tuiTaskView struct {
	name    string
	stage   string
	target  string
	percent int
	message string
}

// tuiModel is the bubbletea model: one line per live task, with finished
// tasks and printed output scrolled above it.
type tuiModel struct {
	tasks map[int64]*tuiTaskView
	order []int64
	bar   progress.Model
	width int
}

func newTUIModel() tuiModel {
	return tuiModel{
		tasks: make(map[int64]*tuiTaskView),
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(24), progress.WithoutPercentage()),
		width: 80,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tuiStartMsg:
		m.tasks[msg.id] = &tuiTaskView{name: msg.name}
		m.order = append(m.order, msg.id)
	case tuiStageMsg:
		if t, ok := m.tasks[msg.id]; ok {
			t.stage, t.target = msg.stage, msg.target
		}
	case tuiProgressMsg:
		if t, ok := m.tasks[msg.id]; ok {
			t.percent, t.message = msg.percent, msg.message
		}
	case tuiDoneMsg:
		t, ok := m.tasks[msg.id]
		if !ok {
			return m, nil
		}
		delete(m.tasks, msg.id)
		for i, id := range m.order {
			if id == msg.id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		return m, tea.Println(tuiDone.Render("✓") + " " + tuiName.Render(t.name) + " " + tuiDim.Render(t.message))
	case tuiPrintMsg:
		return m, tea.Println(strings.TrimRight(msg.text, "\n"))
	case tuiQuitMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m tuiModel) View() string {
	var sb strings.Builder
	for _, id := range m.order {
		t := m.tasks[id]
		line := fmt.Sprintf("%s %s %3d%% %s %s",
			tuiName.Render(t.name),
			m.bar.ViewAs(float64(t.percent)/100),
			t.percent,
			t.stage,
			tuiDim.Render(t.message))
		sb.WriteString(truncate(line, m.width) + "\n")
	}
	return sb.String()
}

func truncate(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(s)
}

// Mutable
type tuiDisplay struct {
	prog      *tea.Program
	done      chan struct{}
	verbose   atomic.Bool
	nextID    atomic.Int64
	closeOnce sync.Once
}

// NewTUI starts a bubbletea program rendering to w. It does not read input
// and leaves signal handling to the caller.
func NewTUI(w io.Writer) Display {
	d := &tuiDisplay{
		prog: tea.NewProgram(newTUIModel(),
			tea.WithOutput(w),
			tea.WithInput(nil),
			tea.WithoutSignalHandler(),
		),
		done: make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		if _, err := d.prog.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "display: %v\n", err)
		}
	}()
	return d
}

func (d *tuiDisplay) StartTask(name string) Task {
	id := d.nextID.Add(1)
	d.prog.Send(tuiStartMsg{id: id, name: name})
	return &tuiTask{d: d, id: id}
}

func (d *tuiDisplay) Log(msg string) {
	if d.verbose.Load() {
		d.prog.Send(tuiPrintMsg{text: msg})
	}
}

func (d *tuiDisplay) Print(msg string) {
	d.prog.Send(tuiPrintMsg{text: msg})
}

func (d *tuiDisplay) RenderOutput(out *common.Output) {
	if s := renderOutput(out); s != "" {
		d.Print(s)
	}
}

func (d *tuiDisplay) SetVerbose(v bool) {
	d.verbose.Store(v)
}

func (d *tuiDisplay) Close() {
	d.closeOnce.Do(func() {
		d.prog.Send(tuiQuitMsg{})
		<-d.done
	})
}

type tuiTask struct {
	d  *tuiDisplay
	id int64
}

func (t *tuiTask) Log(msg string) { t.d.Log(msg) }

func (t *tuiTask) SetStage(name string, target string) {
	t.d.prog.Send(tuiStageMsg{id: t.id, stage: name, target: target})
}

func (t *tuiTask) Progress(percent int, message string) {
	t.d.prog.Send(tuiProgressMsg{id: t.id, percent: clampPercent(percent), message: message})
}

func (t *tuiTask) Done() {
	t.d.prog.Send(tuiDoneMsg{id: t.id})
}
