// Package monitor renders a live terminal dashboard over the trace
// event stream: one row per analysis run with its phase timeline, a
// sparkline of recent phase durations, and aggregate run counters.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/insightd/internal/coordinator"
	"github.com/fyrsmithlabs/insightd/internal/trace"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30

	// maxRows bounds how many runs the dashboard keeps on screen.
	maxRows = 8

	// phaseTotal is the length of a full pipeline, used for the
	// current-run progress bar.
	phaseTotal = 5
)

// Run display states derived from the phase records seen so far.
const (
	runActive = iota
	runDone
	runDegraded
	runFailed
)

// Phase cell statuses.
const (
	cellRunning = "running"
	cellOK      = "ok"
	cellError   = "error"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ffff")).
			Background(lipgloss.Color("#1a1a2e")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff00ff")).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555555"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ff88"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ffaa00"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff4444"))

	containerStyle = lipgloss.NewStyle().
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555555")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ffff"))

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ffff"))
)

// phaseCell is one phase of one run as the event stream reported it.
type phaseCell struct {
	name       string
	status     string
	durationMS float64
}

// runRow accumulates the phase events of a single session.
type runRow struct {
	sessionID string
	dataset   string
	phases    []phaseCell
}

// cell returns the most recent cell for the named phase, appending a
// fresh one when the phase has not been seen yet. A recommit re-emits
// the commit phase, so lookups scan from the end.
func (r *runRow) cell(name string) *phaseCell {
	for i := len(r.phases) - 1; i >= 0; i-- {
		if r.phases[i].name == name {
			return &r.phases[i]
		}
	}
	r.phases = append(r.phases, phaseCell{name: name, status: cellRunning})
	return &r.phases[len(r.phases)-1]
}

// state classifies the run. A run is failed when ingestion errored or
// both analysis branches errored; it is terminal once the commit phase
// has resolved. A terminal run with any phase error is degraded.
func (r *runRow) state() int {
	errs := make(map[string]bool)
	commitDone := false
	for _, c := range r.phases {
		if c.status == cellError {
			errs[c.name] = true
		}
		if c.name == coordinator.PhaseCommit && c.status != cellRunning {
			commitDone = true
		}
	}
	switch {
	case errs[coordinator.PhaseIngest],
		errs[coordinator.PhaseAnalyze] && errs[coordinator.PhaseVisualize]:
		return runFailed
	case commitDone && len(errs) == 0:
		return runDone
	case commitDone:
		return runDegraded
	default:
		return runActive
	}
}

// completed counts phases that have finished, in either direction.
func (r *runRow) completed() int {
	n := 0
	for _, c := range r.phases {
		if c.status != cellRunning {
			n++
		}
	}
	return n
}

// Model is the bubbletea model for the live dashboard. It consumes a
// trace event channel, typically from trace.Feed.Subscribe or Follow.
type Model struct {
	events   <-chan trace.Event
	interval time.Duration

	rows  map[string]*runRow
	order []string

	durations   []float64
	eventsSeen  int
	phaseErrors int
	lastEvent   time.Time
	closed      bool
	quitting    bool

	runProgress progress.Model
}

// NewModel creates a dashboard over the given event stream. The
// interval controls how often the clock-driven parts of the view
// refresh; zero or negative means once per second.
func NewModel(events <-chan trace.Event, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	return Model{
		events:    events,
		interval:  interval,
		rows:      make(map[string]*runRow),
		durations: make([]float64, 0, historySize),
		runProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
	}
}

type tickMsg time.Time

type eventMsg trace.Event

type feedClosedMsg struct{}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent blocks on the stream and converts the next event into a
// message. It is re-armed after every delivery.
func waitForEvent(events <-chan trace.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return feedClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Init starts the event pump and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tick(m.interval))
}

// Update handles key presses, tick refreshes, and trace events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "c":
			m.clearFinished()
			return m, nil
		}

	case tickMsg:
		return m, tick(m.interval)

	case eventMsg:
		m.apply(trace.Event(msg))
		return m, waitForEvent(m.events)

	case feedClosedMsg:
		m.closed = true
		return m, nil
	}

	return m, nil
}

// apply folds one trace event into the run table.
func (m *Model) apply(ev trace.Event) {
	row, ok := m.rows[ev.SessionID]
	if !ok {
		row = &runRow{sessionID: ev.SessionID, dataset: ev.Dataset}
		m.rows[ev.SessionID] = row
		m.order = append([]string{ev.SessionID}, m.order...)
		for len(m.order) > maxRows {
			last := m.order[len(m.order)-1]
			m.order = m.order[:len(m.order)-1]
			delete(m.rows, last)
		}
	}
	if row.dataset == "" {
		row.dataset = ev.Dataset
	}

	switch ev.Type {
	case trace.EventPhaseStart:
		row.phases = append(row.phases, phaseCell{name: ev.Phase, status: cellRunning})
	case trace.EventPhaseEnd:
		c := row.cell(ev.Phase)
		c.status = cellOK
		c.durationMS = ev.DurationMS
		m.durations = appendToHistory(m.durations, ev.DurationMS)
	case trace.EventPhaseError:
		c := row.cell(ev.Phase)
		c.status = cellError
		c.durationMS = ev.DurationMS
		m.phaseErrors++
	}

	m.eventsSeen++
	m.lastEvent = time.Now()
}

// clearFinished drops terminal runs from the table, keeping active ones.
func (m *Model) clearFinished() {
	kept := m.order[:0]
	for _, id := range m.order {
		if m.rows[id].state() == runActive {
			kept = append(kept, id)
			continue
		}
		delete(m.rows, id)
	}
	m.order = kept
}

// counts tallies runs by display state. Degraded runs count as done.
func (m Model) counts() (active, done, failed int) {
	for _, row := range m.rows {
		switch row.state() {
		case runActive:
			active++
		case runFailed:
			failed++
		default:
			done++
		}
	}
	return active, done, failed
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(headerStyle.Render(" insightd monitor "))
	b.WriteString("\n")
	b.WriteString(m.renderStatusLine())
	b.WriteString("\n")

	if row := m.newestActive(); row != nil {
		b.WriteString(sectionStyle.Render("┃ Current Run"))
		b.WriteString("\n")
		b.WriteString(m.renderCurrentRun(row))
	}

	b.WriteString(sectionStyle.Render("┃ Runs"))
	b.WriteString("\n")
	b.WriteString(m.renderRuns())

	b.WriteString(sectionStyle.Render("┃ Phase Durations"))
	b.WriteString("\n")
	b.WriteString(m.renderDurations())

	b.WriteString(footerStyle.Render(fmt.Sprintf("%s quit  %s clear finished",
		footerKeyStyle.Render("[q]"),
		footerKeyStyle.Render("[c]"))))
	b.WriteString("\n")

	return containerStyle.Render(b.String())
}

func (m Model) renderStatusLine() string {
	active, done, failed := m.counts()
	parts := []string{
		fmt.Sprintf("%s %s", labelStyle.Render("active:"), valueStyle.Render(fmt.Sprintf("%d", active))),
		fmt.Sprintf("%s %s", labelStyle.Render("committed:"), healthyStyle.Render(fmt.Sprintf("%d", done))),
		fmt.Sprintf("%s %s", labelStyle.Render("failed:"), errorStyle.Render(fmt.Sprintf("%d", failed))),
		fmt.Sprintf("%s %s", labelStyle.Render("events:"), valueStyle.Render(fmt.Sprintf("%d", m.eventsSeen))),
	}
	switch {
	case m.closed:
		parts = append(parts, dimStyle.Render("stream closed"))
	case m.lastEvent.IsZero():
		parts = append(parts, dimStyle.Render("waiting for events"))
	default:
		parts = append(parts, fmt.Sprintf("%s %s",
			labelStyle.Render("last:"),
			valueStyle.Render(FormatAge(time.Since(m.lastEvent)))))
	}
	return strings.Join(parts, dimStyle.Render("  │  "))
}

// newestActive returns the most recent run still in flight, if any.
func (m Model) newestActive() *runRow {
	for _, id := range m.order {
		if row := m.rows[id]; row.state() == runActive {
			return row
		}
	}
	return nil
}

func (m Model) renderCurrentRun(row *runRow) string {
	phase := "starting"
	for i := len(row.phases) - 1; i >= 0; i-- {
		if row.phases[i].status == cellRunning {
			phase = row.phases[i].name
			break
		}
	}
	bar := m.runProgress.ViewAs(float64(row.completed()) / float64(phaseTotal))
	return fmt.Sprintf("  %s %s  %s %s\n  %s\n",
		labelStyle.Render("dataset:"), valueStyle.Render(row.dataset),
		labelStyle.Render("phase:"), valueStyle.Render(phase),
		bar)
}

func (m Model) renderRuns() string {
	if len(m.order) == 0 {
		return dimStyle.Render("  no runs yet") + "\n"
	}
	var b strings.Builder
	for _, id := range m.order {
		b.WriteString(m.renderRow(m.rows[id]))
	}
	return b.String()
}

func (m Model) renderRow(row *runRow) string {
	var glyph string
	switch row.state() {
	case runDone:
		glyph = healthyStyle.Render("✓")
	case runDegraded:
		glyph = warningStyle.Render("⚠")
	case runFailed:
		glyph = errorStyle.Render("✗")
	default:
		glyph = labelStyle.Render("●")
	}

	cells := make([]string, 0, len(row.phases))
	for _, c := range row.phases {
		cells = append(cells, renderCell(c))
	}

	return fmt.Sprintf("  %s %s %s  %s\n",
		glyph,
		valueStyle.Render(ShortID(row.sessionID)),
		labelStyle.Render(row.dataset),
		strings.Join(cells, dimStyle.Render(" → ")))
}

func renderCell(c phaseCell) string {
	switch c.status {
	case cellOK:
		return fmt.Sprintf("%s %s", c.name, dimStyle.Render(FormatMillis(c.durationMS)))
	case cellError:
		return errorStyle.Render(c.name + " ✗")
	default:
		return labelStyle.Render(c.name + " …")
	}
}

func (m Model) renderDurations() string {
	if len(m.durations) == 0 {
		return dimStyle.Render("  no completed phases yet") + "\n"
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range m.durations {
		spark.Push(v)
	}

	var sum float64
	for _, v := range m.durations {
		sum += v
	}
	avg := sum / float64(len(m.durations))

	var b strings.Builder
	b.WriteString(sparklineStyle.Render(spark.View()))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s %s  %s %s\n",
		labelStyle.Render("avg:"), valueStyle.Render(FormatMillis(avg)),
		labelStyle.Render("errors:"), errorStyle.Render(fmt.Sprintf("%d", m.phaseErrors))))
	return b.String()
}

// appendToHistory appends a value to a fixed-size history window.
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[len(history)-historySize:]
	}
	return history
}
