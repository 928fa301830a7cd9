package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/setscout/readiness"
	"github.com/justapithecus/setscout/types"
)

// recentLimit is the number of decisions kept on screen.
const recentLimit = 12

// ReadinessMsg carries a readiness transition.
type ReadinessMsg readiness.Snapshot

// DecisionMsg carries one classification decision.
type DecisionMsg types.Decision

// DoneMsg reports the end of the session.
type DoneMsg struct {
	Outcome string
	Message string
}

type keyMap struct {
	Quit        key.Binding
	MatchesOnly key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	MatchesOnly: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "matches only"),
	),
}

// BoardModel is the Bubble Tea model of the status board.
type BoardModel struct {
	session     types.SessionMeta
	readiness   readiness.Snapshot
	matches     int
	skips       int
	byReason    map[types.SkipReason]int
	recent      []types.Decision
	matchesOnly bool
	done        *DoneMsg
	width       int
	quitting    bool
}

// NewBoardModel creates an empty board for a session.
func NewBoardModel(session types.SessionMeta) BoardModel {
	return BoardModel{
		session:  session,
		byReason: make(map[types.SkipReason]int),
	}
}

// Init implements tea.Model.
func (m BoardModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m BoardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.MatchesOnly):
			m.matchesOnly = !m.matchesOnly
		}

	case ReadinessMsg:
		m.readiness = readiness.Snapshot(msg)

	case DecisionMsg:
		d := types.Decision(msg)
		if d.IsMatch() {
			m.matches++
		} else {
			m.skips++
			m.byReason[d.Reason]++
		}
		m.recent = append(m.recent, d)
		if len(m.recent) > recentLimit*4 {
			m.recent = m.recent[len(m.recent)-recentLimit*4:]
		}

	case DoneMsg:
		m.done = &msg
	}
	return m, nil
}

// View implements tea.Model.
func (m BoardModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("setscout " + m.session.SessionID))
	b.WriteString("\n")
	b.WriteString(field("Playlist", m.session.PlaylistID))
	b.WriteString(field("Status", m.status()))
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Matches", m.matches, successColor),
		statBox("Skips", m.skips, mutedColor),
	))
	b.WriteString("\n\n")

	rows := m.visible()
	if len(rows) == 0 {
		b.WriteString(HelpStyle.Render("waiting for items..."))
	}
	for _, d := range rows {
		line := fmt.Sprintf("%-8s %-30s %s", truncate(d.Handle, 8), d.Label(), d.Permalink)
		b.WriteString(DecisionStyle(d).Render(line))
		b.WriteString("\n")
	}

	help := "q quit • m matches only"
	if m.matchesOnly {
		help = "q quit • m all decisions"
	}
	b.WriteString(HelpStyle.Render(help))
	return b.String()
}

func (m BoardModel) status() string {
	if m.done != nil {
		s := m.done.Outcome
		if m.done.Message != "" {
			s += ": " + m.done.Message
		}
		return OutcomeStyle(m.done.Outcome).Render(s)
	}
	if m.readiness == nil {
		return WarningStyle.Render("starting")
	}
	summary := m.readiness.Summary()
	if m.readiness.AllReady() {
		return SuccessStyle.Render(summary)
	}
	return WarningStyle.Render(summary)
}

// visible returns the newest decisions passing the filter, newest last.
func (m BoardModel) visible() []types.Decision {
	var out []types.Decision
	for i := len(m.recent) - 1; i >= 0 && len(out) < recentLimit; i-- {
		if m.matchesOnly && !m.recent[i].IsMatch() {
			continue
		}
		out = append(out, m.recent[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func field(label, value string) string {
	return LabelStyle.Render(label+":") + " " + ValueStyle.Render(value) + "\n"
}

func statBox(label string, value int, color lipgloss.Color) string {
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	return StatBoxStyle.BorderForeground(color).
		Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Board runs the status board program and feeds it engine updates.
type Board struct {
	program *tea.Program
}

// NewBoard creates a board for a session. Call Run to start it.
func NewBoard(session types.SessionMeta, opts ...tea.ProgramOption) *Board {
	return &Board{program: tea.NewProgram(NewBoardModel(session), opts...)}
}

// Present implements classify.Presenter.
func (b *Board) Present(_ context.Context, d types.Decision) error {
	b.program.Send(DecisionMsg(d))
	return nil
}

// Readiness is an engine readiness callback.
func (b *Board) Readiness(s readiness.Snapshot) {
	b.program.Send(ReadinessMsg(s))
}

// Done shows the final outcome. The board stays up until the user quits.
func (b *Board) Done(outcome, message string) {
	b.program.Send(DoneMsg{Outcome: outcome, Message: message})
}

// Run blocks until the user quits. onQuit is called when the user quits
// before the session has ended.
func (b *Board) Run(onQuit func()) error {
	final, err := b.program.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(BoardModel); ok && m.done == nil && onQuit != nil {
		onQuit()
	}
	return nil
}

// Quit stops the program.
func (b *Board) Quit() {
	b.program.Quit()
}

// RenderBoardStatic renders a board without starting a program.
func RenderBoardStatic(m BoardModel) string {
	return lipgloss.NewStyle().Padding(1, 2).Render(m.View())
}
