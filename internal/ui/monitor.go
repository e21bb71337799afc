package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/petrel-search/petrel/internal/status"
)

// recentKeep bounds the terminal-transition history shown in the
// dashboard.
const recentKeep = 8

// Monitor is the live ingestion dashboard. The caller pumps status
// events in via Push while Run drives the terminal.
type Monitor struct {
	program *tea.Program
	done    chan struct{}
}

// MonitorConfig configures the dashboard.
type MonitorConfig struct {
	Output  io.Writer
	NoColor bool
	Server  string // address shown in the header
}

// NewMonitor builds the dashboard program.
func NewMonitor(cfg MonitorConfig) *Monitor {
	model := newMonitorModel(cfg)

	var opts []tea.ProgramOption
	if f, ok := cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	opts = append(opts, tea.WithAltScreen())

	return &Monitor{
		program: tea.NewProgram(model, opts...),
		done:    make(chan struct{}),
	}
}

// Run blocks until the user quits or Quit is called.
func (m *Monitor) Run() error {
	defer close(m.done)
	_, err := m.program.Run()
	return err
}

// Push feeds one status event into the dashboard.
func (m *Monitor) Push(st status.ProcessingStatus) {
	m.program.Send(statusMsg(st))
}

// SetConnected updates the connection indicator.
func (m *Monitor) SetConnected(ok bool) {
	m.program.Send(connectedMsg(ok))
}

// Quit stops the dashboard. Waits briefly for the program to unwind.
func (m *Monitor) Quit() {
	m.program.Quit()
	select {
	case <-m.done:
	case <-time.After(2 * time.Second):
	}
}

// Message types.
type statusMsg status.ProcessingStatus
type connectedMsg bool
type monitorTickMsg time.Time

// monitorModel is the bubbletea model behind the dashboard.
type monitorModel struct {
	cfg    MonitorConfig
	styles Styles

	width  int
	height int

	spinner spinner.Model
	bar     progress.Model

	connected bool
	active    map[string]status.ProcessingStatus
	recent    []status.ProcessingStatus
	completed int
	failed    int

	// Events per tick feed the throughput sparkline.
	spark      *Sparkline
	tickEvents int

	quitting bool
}

func newMonitorModel(cfg MonitorConfig) *monitorModel {
	styles := GetStyles(cfg.NoColor || DetectNoColor())

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorCyan))

	bar := progress.New(
		progress.WithSolidFill(ColorCyan),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &monitorModel{
		cfg:     cfg,
		styles:  styles,
		spinner: s,
		bar:     bar,
		active:  make(map[string]status.ProcessingStatus),
		spark:   NewSparkline(50),
		width:   80,
		height:  24,
	}
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, monitorTick())
}

func monitorTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = msg.Width - 30
		if m.bar.Width < 20 {
			m.bar.Width = 20
		}

	case statusMsg:
		m.apply(status.ProcessingStatus(msg))
		return m, nil

	case connectedMsg:
		m.connected = bool(msg)
		return m, nil

	case monitorTickMsg:
		m.spark.Add(float64(m.tickEvents))
		m.tickEvents = 0
		return m, monitorTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// apply folds one event into the dashboard state.
func (m *monitorModel) apply(st status.ProcessingStatus) {
	m.tickEvents++

	if st.State.Terminal() {
		delete(m.active, st.DocID)
		if st.State == status.StateCompleted {
			m.completed++
		} else {
			m.failed++
		}
		m.recent = append([]status.ProcessingStatus{st}, m.recent...)
		if len(m.recent) > recentKeep {
			m.recent = m.recent[:recentKeep]
		}
		return
	}
	m.active[st.DocID] = st
}

func (m *monitorModel) View() string {
	if m.quitting {
		return ""
	}

	contentWidth := m.width - 4
	if contentWidth < 50 {
		contentWidth = 50
	}

	var sections []string
	sections = append(sections, m.renderActive(contentWidth))
	sections = append(sections, m.renderDivider(contentWidth))
	sections = append(sections, m.renderRecent())
	sections = append(sections, m.renderDivider(contentWidth))
	sections = append(sections, m.renderThroughput())

	content := strings.Join(sections, "\n")
	title := "Petrel Monitor"
	if m.cfg.Server != "" {
		title += " · " + m.cfg.Server
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(contentWidth)

	body := lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(content),
	)
	return body + "\n" + m.renderStatusBar()
}

// renderActive lists in-flight documents with progress bars.
func (m *monitorModel) renderActive(width int) string {
	if len(m.active) == 0 {
		return m.styles.Dim.Render("no documents in flight")
	}

	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.active[ids[i]].StartedAt.Before(m.active[ids[j]].StartedAt)
	})

	var lines []string
	for _, id := range ids {
		st := m.active[id]
		name := truncatePath(st.Filename, width-55)
		lines = append(lines, fmt.Sprintf("%s %-18s %s %3.0f%%  %s",
			m.spinner.View(),
			m.styles.Active.Render(string(st.State)),
			m.bar.ViewAs(st.Progress),
			st.Progress*100,
			name))
	}
	return strings.Join(lines, "\n")
}

// renderRecent lists the last terminal transitions.
func (m *monitorModel) renderRecent() string {
	if len(m.recent) == 0 {
		return m.styles.Dim.Render("nothing finished yet")
	}
	var lines []string
	for _, st := range m.recent {
		icon := m.styles.Success.Render("✓")
		note := formatSeconds(st.Elapsed)
		if st.State == status.StateFailed {
			icon = m.styles.Error.Render("✗")
			note = st.Error
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			icon, st.Filename, m.styles.Dim.Render(note)))
	}
	return strings.Join(lines, "\n")
}

func (m *monitorModel) renderThroughput() string {
	return m.styles.Sparkline.Render(m.spark.Render()) + " " +
		m.styles.Dim.Render("events/s")
}

func (m *monitorModel) renderDivider(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

func (m *monitorModel) renderStatusBar() string {
	conn := m.styles.Error.Render("● disconnected")
	if m.connected {
		conn = m.styles.Success.Render("● connected")
	}
	counts := fmt.Sprintf("active %d  │  completed %d  │  failed %d",
		len(m.active), m.completed, m.failed)
	return conn + m.styles.Dim.Render("  │  "+counts+"  │  q to quit")
}
