// styles.go maps task and stream states onto a small set of lipgloss tones.

package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/insajin/pvg-stream/internal/stream"
	"github.com/insajin/pvg-stream/internal/task"
)

// Palette
const (
	colorAccent  = lipgloss.Color("#8B5CF6")
	colorBanner  = lipgloss.Color("#4C1D95")
	colorRule    = lipgloss.Color("#6D28D9")
	colorBorder  = lipgloss.Color("#52525B")
	colorText    = lipgloss.Color("#FFFFFF")
	colorSubtle  = lipgloss.Color("#A1A1AA")
	colorMuted   = lipgloss.Color("#71717A")
	colorSuccess = lipgloss.Color("#14B8A6")
	colorHold    = lipgloss.Color("#0D9488")
	colorDanger  = lipgloss.Color("#E11D48")
)

// tone is the visual class a task, stream or aggregate state renders with.
type tone int

const (
	toneMuted   tone = iota // pending, queued, disconnected, idle
	toneActive              // running, retrying, connecting, reconnecting
	toneSuccess             // completed, connected
	toneFailure             // failed, cancelled, stream error
	toneHold                // paused by the user or an environment signal
)

var toneColors = map[tone]lipgloss.Color{
	toneMuted:   colorMuted,
	toneActive:  colorAccent,
	toneSuccess: colorSuccess,
	toneFailure: colorDanger,
	toneHold:    colorHold,
}

// style returns the plain foreground style for t.
func (t tone) style() lipgloss.Style {
	c, ok := toneColors[t]
	if !ok {
		c = colorMuted
	}
	return lipgloss.NewStyle().Foreground(c)
}

// badge is style() in bold, used for state labels rather than table cells.
func (t tone) badge() lipgloss.Style {
	s := t.style()
	if t == toneMuted {
		return s
	}
	return s.Bold(true)
}

// taskTone classifies a task status.
func taskTone(status task.Status) tone {
	switch status {
	case task.StatusCompleted:
		return toneSuccess
	case task.StatusRunning, task.StatusRetrying:
		return toneActive
	case task.StatusFailed, task.StatusCancelled:
		return toneFailure
	default:
		return toneMuted
	}
}

// streamTone classifies a stream connection state.
func streamTone(state stream.State) tone {
	switch state {
	case stream.StateConnected:
		return toneSuccess
	case stream.StateConnecting, stream.StateReconnecting:
		return toneActive
	case stream.StateError:
		return toneFailure
	default:
		return toneMuted
	}
}

// Layout
var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	// focused panel
	activePanelStyle = panelStyle.BorderForeground(colorAccent)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Background(colorBanner).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(colorRule)

	selectedRowStyle = lipgloss.NewStyle().
				Background(colorBanner).
				Foreground(colorText)

	normalRowStyle = lipgloss.NewStyle().Foreground(colorSubtle)

	labelStyle = lipgloss.NewStyle().Foreground(colorSubtle).Width(16)
	valueStyle = lipgloss.NewStyle().Foreground(colorText)

	helpStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	helpKeyStyle = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
)
