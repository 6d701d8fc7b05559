// Package tui provides an interactive terminal viewer for streaming traces.
package tui

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/KilimcininKorOglu/netdiag/internal/trace"
)

// State represents the current state of the TUI.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateComplete
	StateError
)

// chrome is the number of lines taken by the header and footer.
const chrome = 6

// Model is the Bubble Tea model for the trace viewer.
type Model struct {
	host   string
	tracer *trace.Tracer
	ctx    context.Context
	cancel context.CancelFunc
	width  int
	height int

	// State
	state      State
	session    *trace.Session
	output     string
	events     int
	final      *trace.Event
	traceState trace.State
	err        error
	elapsed    time.Duration
	startTime  time.Time

	// UI components
	spinner  spinner.Model
	viewport viewport.Model

	styles Styles
}

// StartedMsg is sent once the trace process has been launched.
type StartedMsg struct {
	Session *trace.Session
}

// EventMsg carries one trace event.
type EventMsg struct {
	Event trace.Event
}

// ClosedMsg is sent when the event stream has closed.
type ClosedMsg struct {
	State trace.State
}

// ErrorMsg is sent when the trace could not be started.
type ErrorMsg struct {
	Err error
}

// TickMsg is sent to update elapsed time.
type TickMsg time.Time

// New creates a new TUI model. Cancelling ctx, or quitting, kills the trace.
func New(ctx context.Context, host string, tracer *trace.Tracer) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ctx, cancel := context.WithCancel(ctx)

	return &Model{
		host:      host,
		tracer:    tracer,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateStarting,
		spinner:   s,
		viewport:  viewport.New(80, 24-chrome),
		styles:    DefaultStyles(),
		width:     80,
		height:    24,
		startTime: time.Now(),
	}
}

// SetStyles replaces the style set.
func (m *Model) SetStyles(styles Styles) {
	m.styles = styles
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.startTrace(),
		m.tickCmd(),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.cancel()
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chrome, 1)
		m.viewport.SetContent(m.output)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		if m.state == StateStarting || m.state == StateRunning {
			m.elapsed = time.Since(m.startTime)
			return m, m.tickCmd()
		}

	case StartedMsg:
		m.state = StateRunning
		m.session = msg.Session
		return m, waitForEvent(msg.Session)

	case EventMsg:
		m.events++
		if msg.Event.Terminal() {
			ev := msg.Event
			m.final = &ev
		}
		m.output += m.renderEvent(msg.Event)
		m.viewport.SetContent(m.output)
		m.viewport.GotoBottom()
		return m, waitForEvent(m.session)

	case ClosedMsg:
		m.state = StateComplete
		m.traceState = msg.State
		m.elapsed = time.Since(m.startTime)

	case ErrorMsg:
		m.state = StateError
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	if m.output == "" {
		b.WriteString(m.styles.Subtle.Render("Waiting for output..."))
	} else {
		b.WriteString(m.viewport.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

// renderHeader renders the header section.
func (m Model) renderHeader() string {
	title := m.styles.Title.Render("netdiag trace")

	var status string
	switch m.state {
	case StateStarting:
		status = m.spinner.View() + " Starting..."
	case StateRunning:
		status = m.spinner.View() + " Tracing..."
	case StateComplete:
		status = m.renderOutcome()
	case StateError:
		status = m.styles.Error.Render("✗ " + m.err.Error())
	}

	info := fmt.Sprintf("Target: %s | Deadline: %s | Elapsed: %s",
		truncate(m.host, 40), m.tracer.Timeout(), m.elapsed.Round(100*time.Millisecond))

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.styles.Subtle.Render(info),
		status,
	)
}

// renderOutcome describes how the finished trace ended.
func (m Model) renderOutcome() string {
	if m.final == nil {
		if m.traceState == trace.StateSpawnFailed {
			return m.styles.Error.Render("✗ Could not start trace")
		}
		return m.styles.Warning.Render("! Trace ended early")
	}

	switch m.final.Kind {
	case trace.EventDone:
		return m.styles.Success.Render("✓ Complete")
	case trace.EventNonZeroExit:
		return m.styles.Warning.Render(fmt.Sprintf("! Exited with code %d (possible partial route)", m.final.ExitCode))
	case trace.EventTimedOut:
		return m.styles.Error.Render("✗ Timed out")
	}
	return ""
}

// renderFooter renders the footer section.
func (m Model) renderFooter() string {
	var parts []string

	if m.session != nil && m.session.Pid() > 0 {
		parts = append(parts, fmt.Sprintf("PID: %d", m.session.Pid()))
	}
	parts = append(parts, fmt.Sprintf("Events: %d", m.events))
	if m.state == StateComplete {
		parts = append(parts, "State: "+m.traceState.String())
	}
	parts = append(parts, "↑/↓ scroll", "Press 'q' to quit")

	return m.styles.Subtle.Render(strings.Join(parts, " | "))
}

// renderEvent styles one event for the viewport.
func (m Model) renderEvent(ev trace.Event) string {
	text := ev.Render()
	switch ev.Kind {
	case trace.EventChunk:
		return m.highlight(text)
	case trace.EventProcessError:
		return m.styles.Stderr.Render(text)
	case trace.EventNonZeroExit:
		return m.styles.Warning.Render(text)
	case trace.EventTimedOut:
		return m.styles.Error.Render(text)
	}
	return text
}

var (
	rttPattern     = regexp.MustCompile(`(\d+(?:\.\d+)?) ?ms`)
	timeoutPattern = regexp.MustCompile(`(^|\s)\*(\s|$)`)
)

// highlight colors round-trip times by latency and unanswered probes.
func (m Model) highlight(text string) string {
	text = rttPattern.ReplaceAllStringFunc(text, func(s string) string {
		match := rttPattern.FindStringSubmatch(s)
		rtt, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return s
		}
		return m.colorizeRTT(s, rtt)
	})
	return timeoutPattern.ReplaceAllStringFunc(text, func(s string) string {
		return strings.Replace(s, "*", m.styles.Timeout.Render("*"), 1)
	})
}

// colorizeRTT applies color based on latency.
func (m Model) colorizeRTT(s string, rtt float64) string {
	if rtt <= 0 {
		return m.styles.Subtle.Render(s)
	}

	switch {
	case rtt < 50:
		return m.styles.RTTLow.Render(s)
	case rtt < 150:
		return m.styles.RTTMed.Render(s)
	default:
		return m.styles.RTTHigh.Render(s)
	}
}

// startTrace launches the trace process.
func (m Model) startTrace() tea.Cmd {
	return func() tea.Msg {
		session, err := m.tracer.Start(m.ctx, m.host)
		if err != nil {
			return ErrorMsg{Err: err}
		}
		return StartedMsg{Session: session}
	}
}

// waitForEvent waits for the next event from the session.
func waitForEvent(session *trace.Session) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-session.Events()
		if !ok {
			return ClosedMsg{State: session.Wait()}
		}
		return EventMsg{Event: ev}
	}
}

// tickCmd returns a command that sends tick messages.
func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Close kills the trace if it is still running and waits for it to be reaped.
func (m *Model) Close() error {
	m.cancel()
	if m.session != nil {
		// Drain so the session can reach its terminal state.
		for range m.session.Events() {
		}
		m.session.Wait()
	}
	return nil
}

// truncate truncates a string to maxLen.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
