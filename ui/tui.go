package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// UIState represents the aggregated state for the TUI
type UIState struct {
	JobID      string
	Direction  string
	FileName   string
	PartsDone  int
	PartsTotal int
	BytesDone  int64
	BytesTotal int64

	ThroughputBPms float64 // bytes per millisecond
	IsRunning      bool
	Done           bool
	Failed         bool
	ErrMsg         string
}

// TUIModel implements the tea.Model interface
type TUIModel struct {
	state    *UIState
	spinner  spinner.Model
	progress progress.Model
	viewport viewport.Model

	width  int
	height int

	// Styles
	titleStyle   lipgloss.Style
	infoStyle    lipgloss.Style
	partStyle    lipgloss.Style
	helpStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
}

// TUIUpdateMsg is sent periodically to update the UI state
type TUIUpdateMsg struct {
	State *UIState
}

func NewTUIModel(initialState *UIState) TUIModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	prog := progress.New(progress.WithDefaultGradient())

	return TUIModel{
		state:        initialState,
		spinner:      s,
		progress:     prog,
		titleStyle:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1),
		infoStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		partStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		helpStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		successStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
}

func (m TUIModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
	)
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.state.IsRunning = false
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 14

		headerHeight := 5
		footerHeight := 2
		m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)

	case TUIUpdateMsg:
		m.state = msg.State
		if m.state.Done || m.state.Failed {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m TUIModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sb strings.Builder

	// Header
	header := fmt.Sprintf("%s bsxfer %s", m.spinner.View(), m.titleStyle.Render(m.state.Direction))
	sb.WriteString(header + "\n")

	// Overall progress
	var percent float64 = 0
	if m.state.BytesTotal > 0 {
		percent = float64(m.state.BytesDone) / float64(m.state.BytesTotal)
	}

	opsInfo := fmt.Sprintf("ETA: %s | Parts: %d/%d | %s / %s",
		formatETA(percent, m.state.ThroughputBPms, m.state.BytesTotal, m.state.BytesDone),
		m.state.PartsDone, m.state.PartsTotal,
		formatBytes(m.state.BytesDone), formatBytes(m.state.BytesTotal))

	sb.WriteString(m.infoStyle.Render(opsInfo) + "\n")
	sb.WriteString(m.progress.ViewAs(percent) + "\n\n")

	// Transfer detail
	var detail strings.Builder
	name := m.state.FileName
	if len(name) > 40 {
		name = "..." + name[len(name)-37:]
	}
	detail.WriteString(fmt.Sprintf("%s | %-10s | %s\n",
		m.progress.ViewAs(percent),
		m.partStyle.Render(formatSpeed(m.state.ThroughputBPms*1000)),
		name))

	m.viewport.SetContent(detail.String())
	sb.WriteString(m.viewport.View())

	// Footer
	help := m.helpStyle.Render("q/ctrl+c: quit")
	if m.state.Done {
		help = m.successStyle.Render("Transfer Complete!") + " Press 'q' to exit."
	}
	if m.state.Failed {
		help = m.errorStyle.Render("Transfer Failed: "+m.state.ErrMsg) + " Press 'q' to exit."
	}
	sb.WriteString("\n" + help)

	return sb.String()
}

func formatBytes(n int64) string {
	switch {
	case n >= 1024*1024*1024:
		return fmt.Sprintf("%.2f GB", float64(n)/(1024*1024*1024))
	case n >= 1024*1024:
		return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
	case n >= 1024:
		return fmt.Sprintf("%.2f KB", float64(n)/1024)
	}
	return fmt.Sprintf("%d B", n)
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec >= 1024*1024*1024 {
		return fmt.Sprintf("%.2f GB/s", bytesPerSec/(1024*1024*1024))
	} else if bytesPerSec >= 1024*1024 {
		return fmt.Sprintf("%.2f MB/s", bytesPerSec/(1024*1024))
	} else if bytesPerSec >= 1024 {
		return fmt.Sprintf("%.2f KB/s", bytesPerSec/1024)
	}
	return fmt.Sprintf("%.0f B/s", bytesPerSec)
}

func formatETA(progress float64, bytesPerMs float64, totalBytes, completedBytes int64) string {
	if progress == 0 || bytesPerMs <= 0 || totalBytes == 0 {
		return "Calculating..."
	}

	remainingBytes := totalBytes - completedBytes
	if remainingBytes <= 0 {
		return "0s"
	}

	remainingMs := float64(remainingBytes) / bytesPerMs
	d := time.Duration(remainingMs) * time.Millisecond

	if d.Hours() > 24 {
		return "> 1d"
	}

	return d.Round(time.Second).String()
}
