package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/desertwitch/minixfs/internal/queue"
	"github.com/dustin/go-humanize"
)

const (
	maxLogLines  = 100
	tickInterval = 100 * time.Millisecond
)

//nolint:gochecknoglobals
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2B7A78"))

	borderStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2B7A78"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(0, 1)
)

// stage is one progress panel.
type stage struct {
	title string
	data  queue.Progress
	bar   progress.Model
}

// progressMsg carries fresh progress of every stage.
type progressMsg struct {
	stages []queue.Progress
}

// TeaModel is the [tea.Model] of the import interface.
type TeaModel struct {
	width      int
	height     int
	fullWidth  int
	splitWidth int

	cancel       context.CancelFunc
	handler      *Handler
	queueManager *queue.Manager

	stages []stage
	logs   []string
	view   viewport.Model
	ready  bool
}

// NewTeaModel returns the initial [TeaModel].
//
//nolint:mnd
func NewTeaModel(handler *Handler, cancel context.CancelFunc) TeaModel {
	titles := []string{"Directories", "Files", "Verify"}

	stages := make([]stage, len(titles))
	for i, title := range titles {
		stages[i] = stage{
			title: title,
			bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(80)),
		}
	}

	return TeaModel{
		cancel:       cancel,
		handler:      handler,
		queueManager: handler.queueManager,
		stages:       stages,
		logs:         make([]string, 0, maxLogLines),
		view:         viewport.New(80, 20),
	}
}

// Init starts the progress ticker.
func (m TeaModel) Init() tea.Cmd {
	return tick(m.queueManager)
}

func tick(qm *queue.Manager) tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg {
		return progressMsg{stages: []queue.Progress{
			qm.Directories.Progress(),
			qm.Files.Progress(),
			qm.Verify.Progress(),
		}}
	})
}

func (m *TeaModel) renderLogs() {
	if len(m.logs) == 0 {
		return
	}

	content := lipgloss.NewStyle().
		Width(m.view.Width).
		Render(strings.TrimSuffix(strings.Join(m.logs, ""), "\n"))

	m.view.SetContent(content)
	m.view.GotoBottom()
}

// Update handles keys, resizes, progress ticks and log records.
//
//nolint:mnd,ireturn
func (m TeaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()

			return m, tea.Quit
		case "q":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.fullWidth = m.width - 2
		m.splitWidth = m.width/len(m.stages) - 2

		for i := range m.stages {
			m.stages[i].bar.Width = m.splitWidth
		}

		// Stage panels take about two fifths of the height.
		lower := m.height - m.height*2/5
		m.view.Width = m.fullWidth
		m.view.Height = max(lower-3, 1)
		m.renderLogs()

		if !m.ready {
			m.ready = true
			m.handler.Initialized.Store(true)
		}

	case progressMsg:
		for i := range m.stages {
			m.stages[i].data = msg.stages[i]
			cmds = append(cmds, m.stages[i].bar.SetPercent(msg.stages[i].ProgressPct/100))
		}
		cmds = append(cmds, tick(m.queueManager))

	case LogMsg:
		if len(m.logs) >= maxLogLines {
			m.logs = m.logs[1:]
		}
		m.logs = append(m.logs, string(msg))
		m.renderLogs()

	case progress.FrameMsg:
		for i := range m.stages {
			updated, cmd := m.stages[i].bar.Update(msg)
			if bar, ok := updated.(progress.Model); ok {
				m.stages[i].bar = bar
			}
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the stage panels, the log panel and the key help.
func (m TeaModel) View() string {
	if !m.ready {
		return "Loading the interface..."
	}

	panels := make([]string, 0, len(m.stages))
	for _, s := range m.stages {
		panels = append(panels, borderStyle.Width(m.splitWidth).Render(m.stageView(s)))
	}

	logs := borderStyle.
		Width(m.fullWidth).
		Render(lipgloss.JoinVertical(
			lipgloss.Left,
			titleStyle.Width(m.fullWidth).Render("Log"),
			lipgloss.NewStyle().Width(m.fullWidth).Render(m.view.View()),
		))

	help := helpStyle.Width(m.fullWidth).Render("q: close interface | ctrl+c: abort import")

	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, panels...),
		logs,
		help,
	)
}

func (m TeaModel) stageView(s stage) string {
	p := s.data

	var details string
	if p.HasFinished {
		details = fmt.Sprintf(
			"Progress: %.2f%% (%d/%d)\n"+
				"Items: Success=%d, Skipped=%d, Failed=%d\n"+
				"Bytes: %s\n"+
				"Time: Started=%s, Finished=%s\n",
			p.ProgressPct, p.ProcessedItems, p.TotalItems,
			p.SuccessItems, p.SkippedItems, p.FailedItems,
			humanize.Bytes(p.Bytes),
			p.StartTime.Format(time.TimeOnly), p.FinishTime.Format(time.TimeOnly),
		)
	} else {
		details = fmt.Sprintf(
			"Progress: %.2f%% (%d/%d)\n"+
				"Items: InProgress=%d, Success=%d, Skipped=%d, Failed=%d\n"+
				"Bytes: %s at %s/s\n"+
				"Time: ETA=%s (%s left)\n",
			p.ProgressPct, p.ProcessedItems, p.TotalItems,
			p.InProgressItems, p.SuccessItems, p.SkippedItems, p.FailedItems,
			humanize.Bytes(p.Bytes), humanize.Bytes(uint64(p.BytesPerSec)),
			p.ETA.Format(time.TimeOnly), p.TimeLeft.Round(time.Second),
		)
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Width(m.splitWidth).Render(s.title),
		"",
		s.bar.View(),
		"",
		infoStyle.Width(m.splitWidth).Render(details),
	)
}
