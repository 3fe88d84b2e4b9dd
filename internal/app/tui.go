package app

import (
	"context"
	"fmt"
	"strings"

	"readaloud/internal/domain/document"
	"readaloud/internal/narration/host"
	"readaloud/internal/narration/session"
	"readaloud/internal/narration/sleeptimer"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00BFFF"))

	authorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF66CC"))

	paragraphStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(1, 2)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Padding(0, 1)

	controlsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Italic(true)

	pausedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	completeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)
)

type snapshotMsg host.Snapshot

type closedMsg struct{}

type errMsg struct{ err error }

type model struct {
	ctx     context.Context
	control controller
	updates <-chan host.Snapshot
	doc     document.Document

	snap         host.Snapshot
	started      bool
	spinner      spinner.Model
	bar          progress.Model
	sleepMinutes int
	defaultSpeed float64
	err          error
	quitting     bool
	width        int
	height       int
}

func newModel(ctx context.Context, c controller, doc document.Document, updates <-chan host.Snapshot, sleepMinutes int, speed float64) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	return model{
		ctx:          ctx,
		control:      c,
		updates:      updates,
		doc:          doc,
		spinner:      s,
		bar:          progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		sleepMinutes: sleepMinutes,
		defaultSpeed: speed,
		width:        80,
		height:       24,
	}
}

func waitForSnapshot(updates <-chan host.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(snap)
	}
}

// run wraps a controller call as a command that reports only failures.
func (m model) run(call func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		if err := call(m.ctx); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m model) speed() float64 {
	if s := m.snap.Narration.Speed; s > 0 {
		return s
	}
	return m.defaultSpeed
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.updates))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case " ", "p":
			return m, m.run(func(ctx context.Context) error { return m.control.Dispatch(ctx, host.ActionToggle) })

		case "right", "n":
			return m, m.run(m.control.Next)

		case "left", "b":
			return m, m.run(m.control.Previous)

		case "+", "=", "up":
			speed := m.speed() + speedStep
			return m, m.run(func(ctx context.Context) error { return m.control.SetSpeed(ctx, speed) })

		case "-", "down":
			speed := m.speed() - speedStep
			return m, m.run(func(ctx context.Context) error { return m.control.SetSpeed(ctx, speed) })

		case "t":
			minutes := m.sleepMinutes
			return m, m.run(func(ctx context.Context) error { return m.control.StartSleepTimer(ctx, minutes) })

		case "c":
			return m, m.run(m.control.CancelSleepTimer)

		case "s":
			m.quitting = true
			return m, tea.Sequence(m.run(m.control.Stop), tea.Quit)

		case "q", "Q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(msg.Width-4, 10)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.snap = host.Snapshot(msg)
		switch m.snap.Narration.Status {
		case session.LoadingPage, session.Speaking, session.Paused:
			m.started = true
		case session.Finished, session.Failed:
			m.quitting = true
			return m, tea.Quit
		case session.Idle:
			if m.started {
				m.quitting = true
				return m, tea.Quit
			}
		}
		return m, waitForSnapshot(m.updates)

	case closedMsg:
		m.err = host.ErrHostClosed
		m.quitting = true
		return m, tea.Quit

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	st := m.snap.Narration
	if m.quitting {
		switch st.Status {
		case session.Finished:
			return completeStyle.Render("\n  Narration complete!\n")
		case session.Failed:
			return errorStyle.Render(fmt.Sprintf("\n  Narration failed: %s: %s\n", st.Reason, st.Error))
		}
		return ""
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render(m.doc.Title))
	if m.doc.Author != "" {
		sb.WriteString(" ")
		sb.WriteString(authorStyle.Render("by " + m.doc.Author))
	}
	sb.WriteString("\n")
	sb.WriteString(statusStyle.Render(m.statusLine()))
	sb.WriteString("\n")

	pages := max(st.PageCount, m.doc.PageCount)
	percent := 0.0
	if pages > 0 {
		percent = float64(st.Position.PageIndex+1) / float64(pages)
	}
	sb.WriteString("  ")
	sb.WriteString(m.bar.ViewAs(percent))
	sb.WriteString("\n")

	text := ""
	switch {
	case st.Status == session.LoadingPage:
		text = m.spinner.View() + " Loading page " + fmt.Sprint(st.Position.PageIndex+1)
	case st.Paragraph != nil:
		text = st.Paragraph.Text
	}
	sb.WriteString(paragraphStyle.Width(max(m.width-2, 20)).Render(text))
	sb.WriteString("\n")

	if st.Reason != "" {
		sb.WriteString(errorStyle.Render(fmt.Sprintf("%s: %s", st.Reason, st.Error)))
		sb.WriteString("\n")
	}
	if m.err != nil {
		sb.WriteString(errorStyle.Render(m.err.Error()))
		sb.WriteString("\n")
	}

	sb.WriteString(controlsStyle.Render("SPACE: pause/play  ←/→: paragraph  ↑/↓: speed  T/C: sleep timer  S: stop  Q: quit"))
	return sb.String()
}

func (m model) statusLine() string {
	st := m.snap.Narration
	line := fmt.Sprintf("Page %d/%d | ¶ %d/%d | %.2fx",
		st.Position.PageIndex+1, max(st.PageCount, m.doc.PageCount),
		st.Position.ParagraphIndex+1, st.ParagraphCount, m.speed())
	if m.snap.Sleep.Active {
		line += " | sleep " + sleeptimer.Format(m.snap.Sleep.RemainingSeconds)
	}
	if st.Status == session.Paused {
		line += pausedStyle.Render(" [PAUSED]")
	}
	return line
}

// runTUI shows narration full screen until it ends or the user quits.
func (n *Narrator) runTUI(ctx context.Context, c controller, doc document.Document, updates <-chan host.Snapshot) error {
	m := newModel(ctx, c, doc, updates, n.cfg.Sleep.DefaultMinutes, n.cfg.TTS.Speed)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx), tea.WithInput(n.in), tea.WithOutput(n.out))

	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	fm := final.(model)
	if fm.snap.Narration.Status == session.Failed {
		return fmt.Errorf("narration failed: %s: %s", fm.snap.Narration.Reason, fm.snap.Narration.Error)
	}
	if fm.err != nil && fm.snap.Narration.Status != session.Finished {
		return fm.err
	}
	return nil
}
