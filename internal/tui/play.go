package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/minicodemonkey/frotzchat/internal/catalog"
	"github.com/minicodemonkey/frotzchat/internal/engine"
	"github.com/minicodemonkey/frotzchat/internal/game"
)

// Sessions runs games for players.
type Sessions interface {
	Play(g catalog.Game, player string) (engine.Started, error)
	Submit(g catalog.Game, player, text string) (engine.Reply, error)
	Leave(g catalog.Game, player string) error
}

type mode int

const (
	modeStarting mode = iota
	modePlaying
	modeLeave
	modeGameOver
	modeFailed
)

// chrome is the number of rows taken by the title bar, input and help bar.
const chrome = 4

type startedMsg struct {
	started engine.Started
	err     error
}

type replyMsg struct {
	reply engine.Reply
	err   error
}

type leftMsg struct {
	err error
}

// Model plays one game for one player in the terminal.
type Model struct {
	sessions Sessions
	game     catalog.Game
	player   string

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	leave    *LeaveConfirm
	gameOver *GameOverScreen

	mode       mode
	busy       bool
	transcript []string
	moves      int
	err        error
	width      int
	height     int
}

// NewModel creates the play screen for player's game.
func NewModel(sessions Sessions, g catalog.Game, player string) Model {
	ti := textinput.New()
	ti.Placeholder = "What do you do?"
	ti.Prompt = "> "
	ti.CharLimit = 256
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = noticeStyle

	m := Model{
		sessions: sessions,
		game:     g,
		player:   player,
		viewport: viewport.New(80, 20),
		input:    ti,
		spinner:  sp,
		leave:    NewLeaveConfirm(),
		gameOver: NewGameOverScreen(),
		busy:     true,
		width:    80,
		height:   24,
	}
	m.leave.SetGame(g.Name)
	return m
}

// Err returns the error that ended the session early, if any.
func (m Model) Err() error {
	return m.err
}

// Init starts the game.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startGame())
}

func (m Model) startGame() tea.Cmd {
	sessions, g, player := m.sessions, m.game, m.player
	return func() tea.Msg {
		started, err := sessions.Play(g, player)
		return startedMsg{started: started, err: err}
	}
}

func (m Model) submit(text string) tea.Cmd {
	sessions, g, player := m.sessions, m.game, m.player
	return func() tea.Msg {
		reply, err := sessions.Submit(g, player, text)
		return replyMsg{reply: reply, err: err}
	}
}

func (m Model) leaveGame() tea.Cmd {
	sessions, g, player := m.sessions, m.game, m.player
	return func() tea.Msg {
		return leftMsg{err: sessions.Leave(g, player)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case startedMsg:
		m.busy = false
		if msg.err != nil {
			m.fail(msg.err)
			return m, nil
		}
		m.mode = modePlaying
		if msg.started.Replayed > 0 {
			m.appendNotice(fmt.Sprintf("Restored %d moves.", msg.started.Replayed))
			m.moves = msg.started.Replayed
		}
		m.appendStory(msg.started.Intro)
		if msg.started.Ended {
			m.endGame(msg.started.Intro)
		}
		return m, nil

	case replyMsg:
		m.busy = false
		return m.handleReply(msg)

	case leftMsg:
		if msg.err != nil && !errors.Is(msg.err, engine.ErrNotPlaying) {
			m.err = msg.err
		}
		return m, tea.Quit

	case tea.KeyMsg:
		switch m.mode {
		case modeLeave:
			return m.updateLeave(msg)
		case modeGameOver, modeFailed:
			switch msg.String() {
			case "q", "esc", "enter", "ctrl+c":
				return m, tea.Quit
			}
			return m, nil
		}
		return m.updatePlaying(msg)
	}
	return m, nil
}

func (m Model) updatePlaying(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		if m.mode == modePlaying && !m.busy {
			m.leave.Reset()
			m.mode = modeLeave
		}
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case "enter":
		if m.busy || m.mode != modePlaying {
			return m, nil
		}
		text := game.NormalizeCommand(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.SetValue("")
		m.appendCommand(text)
		m.busy = true
		return m, tea.Batch(m.spinner.Tick, m.submit(text))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateLeave(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modePlaying
	case "up", "k":
		m.leave.MoveUp()
	case "down", "j":
		m.leave.MoveDown()
	case "enter":
		switch m.leave.SelectedOption() {
		case LeaveOptionQuitKeepSave:
			return m, tea.Quit
		case LeaveOptionAbandon:
			m.busy = true
			return m, m.leaveGame()
		default:
			m.mode = modePlaying
		}
	}
	return m, nil
}

func (m Model) handleReply(msg replyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.err == nil:
	case errors.Is(msg.err, game.ErrInvalidCommand):
		m.appendError("Invalid command.")
		return m, nil
	case errors.Is(msg.err, game.ErrSessionClosed), errors.Is(msg.err, engine.ErrNotPlaying):
		m.fail(msg.err)
		return m, nil
	default:
		if msg.reply.Text == "" {
			m.appendError(msg.err.Error())
			return m, nil
		}
		// The move was played but could not be recorded.
		m.appendNotice("Warning: " + msg.err.Error())
	}

	m.moves++
	m.appendStory(msg.reply.Text)
	if msg.reply.Ended {
		m.endGame(msg.reply.Text)
	}
	return m, nil
}

func (m *Model) endGame(last string) {
	m.mode = modeGameOver
	m.input.Blur()
	m.gameOver.Configure(m.game.Name, m.moves, lastParagraph(last))
}

func (m *Model) fail(err error) {
	m.err = err
	m.mode = modeFailed
	m.input.Blur()
	m.appendError(err.Error())
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = max(1, height-chrome)
	m.input.Width = max(10, width-4)
	m.leave.SetSize(width, height)
	m.gameOver.SetSize(width, height)
	m.refresh()
}

func (m *Model) appendStory(text string) {
	if text == "" {
		return
	}
	m.transcript = append(m.transcript, storyStyle.Render(text))
	m.refresh()
}

func (m *Model) appendCommand(text string) {
	m.transcript = append(m.transcript, commandStyle.Render("> "+text))
	m.refresh()
}

func (m *Model) appendNotice(text string) {
	m.transcript = append(m.transcript, noticeStyle.Render(text))
	m.refresh()
}

func (m *Model) appendError(text string) {
	m.transcript = append(m.transcript, errorStyle.Render(text))
	m.refresh()
}

func (m *Model) refresh() {
	content := lipgloss.NewStyle().Width(m.viewport.Width).Render(strings.Join(m.transcript, "\n\n"))
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

// View renders the screen.
func (m Model) View() string {
	switch m.mode {
	case modeLeave:
		return m.leave.Render()
	case modeGameOver:
		return m.gameOver.Render()
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s  %s", m.game.Name, m.player)))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.busy {
		b.WriteString(m.spinner.View() + noticeStyle.Render(" waiting for the story..."))
	} else {
		b.WriteString(m.input.View())
	}
	b.WriteString("\n")
	b.WriteString(m.helpBar())
	return b.String()
}

func (m Model) helpBar() string {
	if m.mode == modeFailed {
		return statusBarStyle.Render("q: quit")
	}
	info := fmt.Sprintf("%d moves", m.moves)
	return statusBarStyle.Render(info) + helpStyle.Render("  enter: send  pgup/pgdn: scroll  esc: leave  ctrl+c: quit")
}

// lastParagraph returns the final paragraph of a response.
func lastParagraph(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.LastIndex(text, "\n\n"); i >= 0 {
		return strings.TrimSpace(text[i+2:])
	}
	return text
}
