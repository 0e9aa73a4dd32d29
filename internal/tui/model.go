// Package tui provides a Bubble Tea dashboard for watched task streams.
// model.go implements the main Bubble Tea model with three panels:
// aggregate summary, task table, and stream counters.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/insajin/pvg-stream/internal/envsignal"
	"github.com/insajin/pvg-stream/internal/stream"
	"github.com/insajin/pvg-stream/internal/task"
	"github.com/insajin/pvg-stream/internal/watch"
)

// Panel represents which dashboard panel is currently focused.
type Panel int

const (
	// PanelSummary is the aggregate summary panel (top).
	PanelSummary Panel = iota
	// PanelTasks is the task table panel (middle).
	PanelTasks
	// PanelStreams is the stream counter panel (bottom).
	PanelStreams

	panelCount = 3
)

// maxVisibleTasks is the number of task rows shown before scrolling.
const maxVisibleTasks = 8

// TaskEntry represents a single watched task row.
type TaskEntry struct {
	ID         string
	Status     task.Status
	Progress   float64
	Step       string
	Connection stream.State
	Attempt    int
	Queued     int
	Duration   time.Duration
	Error      string
}

// DashboardData holds all data displayed on the dashboard.
type DashboardData struct {
	// Summary panel data
	StreamURL string
	StartTime time.Time
	Paused    bool
	Stats     watch.Stats

	// Task panel data
	Tasks []TaskEntry

	// Stream panel data
	MessagesSent      int64
	MessagesReceived  int64
	Reconnections     int64
	HeartbeatTimeouts int64
	DuplicateMessages int64
	LateEvents        int64
	LastHeartbeat     string
	GoroutineCount    int
}

// DataProvider is an interface for fetching dashboard data.
type DataProvider interface {
	// FetchData returns the current dashboard data snapshot.
	FetchData() DashboardData
}

// tickMsg signals a periodic data refresh.
type tickMsg time.Time

// Model is the main Bubble Tea model for the dashboard.
type Model struct {
	// data holds the current dashboard snapshot.
	data DashboardData
	// provider fetches fresh data on each tick.
	provider DataProvider
	// signals receives Hidden/Visible when the user toggles pause. May be nil.
	signals *envsignal.ManualSource
	// userPaused tracks the pause toggle requested from the keyboard.
	userPaused bool
	// activePanel tracks the currently focused panel.
	activePanel Panel
	// selectedTask tracks the selected task row index.
	selectedTask int
	// taskScrollOffset tracks the scroll offset for the task list.
	taskScrollOffset int
	// showTaskDetail toggles expanded task detail view.
	showTaskDetail bool
	// width and height store the terminal dimensions.
	width  int
	height int
	// quitting signals the program should exit.
	quitting bool
}

// NewModel creates a new dashboard Model with the given DataProvider.
// The pause key pushes Hidden/Visible to signals when it is non-nil.
func NewModel(provider DataProvider, signals *envsignal.ManualSource) Model {
	return Model{
		data:        provider.FetchData(),
		provider:    provider,
		signals:     signals,
		activePanel: PanelSummary,
	}
}

// Init implements tea.Model. It starts the auto-refresh ticker.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// tickCmd returns a command that sends a tickMsg every second.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model. It processes messages and updates state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tickCmd()
	}

	return m, nil
}

// refresh pulls fresh data and keeps the selection in range.
func (m *Model) refresh() {
	m.data = m.provider.FetchData()
	if m.selectedTask >= len(m.data.Tasks) {
		m.selectedTask = max(len(m.data.Tasks)-1, 0)
	}
	if m.taskScrollOffset > m.selectedTask {
		m.taskScrollOffset = m.selectedTask
	}
}

// handleKeyPress processes keyboard input.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "r":
		m.refresh()
		return m, nil

	case "p":
		m.userPaused = !m.userPaused
		if m.signals != nil {
			if m.userPaused {
				m.signals.Push(envsignal.Hidden)
			} else {
				m.signals.Push(envsignal.Visible)
			}
		}
		m.refresh()
		return m, nil

	case "t":
		m.showTaskDetail = !m.showTaskDetail
		return m, nil

	case "tab":
		m.activePanel = (m.activePanel + 1) % panelCount
		return m, nil

	case "shift+tab":
		m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
		return m, nil

	case "up", "k":
		if m.activePanel == PanelTasks && len(m.data.Tasks) > 0 {
			if m.selectedTask > 0 {
				m.selectedTask--
			}
			if m.selectedTask < m.taskScrollOffset {
				m.taskScrollOffset = m.selectedTask
			}
		}
		return m, nil

	case "down", "j":
		if m.activePanel == PanelTasks && len(m.data.Tasks) > 0 {
			if m.selectedTask < len(m.data.Tasks)-1 {
				m.selectedTask++
			}
			if m.selectedTask >= m.taskScrollOffset+maxVisibleTasks {
				m.taskScrollOffset = m.selectedTask - maxVisibleTasks + 1
			}
		}
		return m, nil
	}

	return m, nil
}

// View implements tea.Model. It renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return "pvgstream dashboard closed.\n"
	}

	w := m.width
	if w == 0 {
		w = 80
	}
	contentWidth := w - 2
	if contentWidth < 40 {
		contentWidth = 40
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(contentWidth),
		m.renderSummaryPanel(contentWidth),
		m.renderTaskPanel(contentWidth),
		m.renderStreamPanel(contentWidth),
		m.renderFooter(contentWidth),
	)
}

// renderHeader returns the dashboard title bar.
func (m Model) renderHeader(width int) string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(colorText).
		Background(colorBanner).
		Padding(0, 1).
		Width(width).
		Render("pvgstream · task progress")
}

// renderFooter returns the keyboard shortcut help bar.
func (m Model) renderFooter(width int) string {
	pauseDesc := "pause"
	if m.userPaused {
		pauseDesc = "resume"
	}
	keys := []struct {
		key  string
		desc string
	}{
		{"q", "quit"},
		{"r", "refresh"},
		{"p", pauseDesc},
		{"t", "toggle detail"},
		{"tab", "switch panel"},
		{"up/down", "scroll tasks"},
	}

	var parts []string
	for _, k := range keys {
		parts = append(parts, helpKeyStyle.Render(k.key)+" "+helpStyle.Render(k.desc))
	}

	help := strings.Join(parts, helpStyle.Render("  |  "))
	return lipgloss.NewStyle().Width(width).Align(lipgloss.Center).Render(help)
}

// renderSummaryPanel renders aggregate counts and the overall state.
func (m Model) renderSummaryPanel(width int) string {
	s := m.data.Stats

	var uptimeStr string
	if !m.data.StartTime.IsZero() {
		uptimeStr = formatDuration(time.Since(m.data.StartTime))
	} else {
		uptimeStr = "--"
	}

	counts := fmt.Sprintf("%d total  %s  %s  %s  %s",
		s.Total,
		toneMuted.style().Render(fmt.Sprintf("%d pending", s.Pending)),
		toneActive.style().Render(fmt.Sprintf("%d running", s.Running)),
		toneSuccess.style().Render(fmt.Sprintf("%d completed", s.Completed)),
		toneFailure.style().Render(fmt.Sprintf("%d failed", s.Failed)),
	)

	lines := []string{
		labelStyle.Render("State:") + " " + m.formatOverallState(),
		labelStyle.Render("Stream:") + " " + valueStyle.Render(m.data.StreamURL),
		labelStyle.Render("Uptime:") + " " + valueStyle.Render(uptimeStr),
		labelStyle.Render("Tasks:") + " " + counts,
	}
	content := strings.Join(lines, "\n")

	style := m.getPanelStyle(PanelSummary, width)
	return titleStyle.Render(" Summary ") + "\n" + style.Render(content)
}

// renderTaskPanel renders the watched task table.
func (m Model) renderTaskPanel(width int) string {
	colID := 14
	colStatus := 11
	colProgress := 18
	colConn := 13
	colStep := 20

	header := headerStyle.Render(
		fmt.Sprintf("%-*s %-*s %-*s %-*s %-*s",
			colID, "ID",
			colStatus, "Status",
			colProgress, "Progress",
			colConn, "Stream",
			colStep, "Step",
		),
	)

	rows := []string{header}

	if len(m.data.Tasks) == 0 {
		rows = append(rows, normalRowStyle.Render("  No tasks watched"))
	} else {
		end := min(m.taskScrollOffset+maxVisibleTasks, len(m.data.Tasks))

		for i := m.taskScrollOffset; i < end; i++ {
			t := m.data.Tasks[i]
			row := fmt.Sprintf("%-*s %-*s %-*s %-*s %-*s",
				colID, truncate(t.ID, colID),
				colStatus, formatTaskStatus(t.Status, colStatus),
				colProgress, progressBar(t.Progress, 10),
				colConn, formatConnection(t.Connection, colConn),
				colStep, truncate(t.Step, colStep),
			)

			if i == m.selectedTask && m.activePanel == PanelTasks {
				rows = append(rows, selectedRowStyle.Render(row))
			} else {
				rows = append(rows, normalRowStyle.Render(row))
			}
		}

		if len(m.data.Tasks) > maxVisibleTasks {
			indicator := fmt.Sprintf("  [%d/%d tasks]", m.selectedTask+1, len(m.data.Tasks))
			rows = append(rows, helpStyle.Render(indicator))
		}
	}

	if m.showTaskDetail && len(m.data.Tasks) > 0 && m.selectedTask < len(m.data.Tasks) {
		t := m.data.Tasks[m.selectedTask]
		detail := fmt.Sprintf(
			"\n  Detail: ID=%s  Status=%s  Progress=%.0f%%  Attempt=%d  Queued=%d  Elapsed=%s",
			t.ID, string(t.Status), t.Progress, t.Attempt, t.Queued, formatTaskDuration(t.Duration),
		)
		if t.Error != "" {
			detail += "\n  Error: " + t.Error
		}
		rows = append(rows, helpStyle.Render(detail))
	}

	content := strings.Join(rows, "\n")
	style := m.getPanelStyle(PanelTasks, width)
	return titleStyle.Render(" Tasks ") + "\n" + style.Render(content)
}

// renderStreamPanel renders the shared stream counters.
func (m Model) renderStreamPanel(width int) string {
	heartbeat := m.data.LastHeartbeat
	if heartbeat == "" {
		heartbeat = "--"
	}
	lines := []string{
		labelStyle.Render("Messages:") + " " + valueStyle.Render(
			fmt.Sprintf("%d sent / %d received", m.data.MessagesSent, m.data.MessagesReceived)),
		labelStyle.Render("Reconnects:") + " " + valueStyle.Render(fmt.Sprintf("%d", m.data.Reconnections)),
		labelStyle.Render("HB Timeouts:") + " " + valueStyle.Render(fmt.Sprintf("%d", m.data.HeartbeatTimeouts)),
		labelStyle.Render("Dropped:") + " " + valueStyle.Render(
			fmt.Sprintf("%d duplicate / %d late", m.data.DuplicateMessages, m.data.LateEvents)),
		labelStyle.Render("Last Heartbeat:") + " " + valueStyle.Render(heartbeat),
		labelStyle.Render("Goroutines:") + " " + valueStyle.Render(fmt.Sprintf("%d", m.data.GoroutineCount)),
	}
	content := strings.Join(lines, "\n")

	style := m.getPanelStyle(PanelStreams, width)
	return titleStyle.Render(" Streams ") + "\n" + style.Render(content)
}

// getPanelStyle returns the appropriate panel style based on focus state.
func (m Model) getPanelStyle(panel Panel, width int) lipgloss.Style {
	if m.activePanel == panel {
		return activePanelStyle.Width(width - 2)
	}
	return panelStyle.Width(width - 2)
}

// overallTone classifies the aggregate for the summary panel.
func (m Model) overallTone() (tone, string) {
	s := m.data.Stats
	switch {
	case m.data.Paused:
		return toneHold, "Paused"
	case s.Total == 0:
		return toneMuted, "Idle"
	case s.AllCompleted:
		return toneSuccess, "All completed"
	case s.IsSettled && s.HasErrors:
		return toneFailure, "Settled with errors"
	case s.HasErrors:
		return toneActive, "In progress (errors)"
	default:
		return toneActive, "In progress"
	}
}

// formatOverallState summarizes the aggregate into one colored label.
func (m Model) formatOverallState() string {
	t, label := m.overallTone()
	return t.badge().Render(label)
}

// formatTaskStatus returns a color-coded, padded task status string.
func formatTaskStatus(status task.Status, width int) string {
	text := fmt.Sprintf("%-*s", width, truncate(string(status), width))
	return taskTone(status).style().Render(text)
}

// formatConnection returns a color-coded, padded stream state string.
func formatConnection(state stream.State, width int) string {
	return streamTone(state).badge().Render(fmt.Sprintf("%-*s", width, state.String()))
}

// progressBar renders a fixed-width bar followed by the percentage.
func progressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 100)
	filled := int(progress / 100 * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]" +
		fmt.Sprintf(" %3.0f%%", progress)
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	totalSeconds := int(d.Seconds())
	days := totalSeconds / 86400
	hours := (totalSeconds % 86400) / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// formatTaskDuration formats a task duration. Zero duration shows "--".
func formatTaskDuration(d time.Duration) string {
	if d == 0 {
		return "--"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// truncate shortens a string to maxLen, adding an ellipsis if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
