// Package tui is the terminal chat front end. It redraws from session
// events, so tasks changed elsewhere show up without a new turn.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tOgg1/bishma/internal/conversation"
	"github.com/tOgg1/bishma/internal/events"
	"github.com/tOgg1/bishma/internal/models"
)

const (
	minSidebarWidth = 28
	maxSidebarWidth = 48
	chromeRows      = 4

	greeting = "Tell me about something you need to get done. I'll ask for reach, impact, confidence and effort until it has a score."
)

// Config controls the chat UI.
type Config struct {
	// Backend is shown in the header.
	Backend string

	// AltScreen runs full screen.
	AltScreen bool
}

type chatLine struct {
	role   models.TurnRole
	text   string
	failed bool
}

type turnDoneMsg struct {
	result conversation.TurnResult
	err    error
}

type syncDoneMsg struct {
	outcome conversation.Outcome
	err     error
}

type resetDoneMsg struct {
	err error
}

type storeChangedMsg struct{}

type model struct {
	ctx     context.Context
	orch    *conversation.Orchestrator
	backend string

	input textinput.Model
	view  viewport.Model
	lines []chatLine
	state conversation.State

	changes chan struct{}
	busy    bool

	statusText string
	statusErr  bool

	width  int
	height int
}

// Run starts the chat UI and blocks until the user quits or ctx ends.
func Run(ctx context.Context, orch *conversation.Orchestrator, publisher events.Publisher, cfg Config) error {
	m := newModel(ctx, orch, cfg)

	if publisher != nil {
		subID := "tui-" + orch.Session().ID()
		filter := events.Filter{SessionID: orch.Session().ID()}
		if err := publisher.Subscribe(subID, filter, m.notify); err != nil {
			return fmt.Errorf("subscribe to session events: %w", err)
		}
		defer func() { _ = publisher.Unsubscribe(subID) }()
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	_, err := tea.NewProgram(m, opts...).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newModel(ctx context.Context, orch *conversation.Orchestrator, cfg Config) model {
	ti := textinput.New()
	ti.Placeholder = "Describe a task, or /help"
	ti.Prompt = "> "
	ti.CharLimit = 2000
	ti.PromptStyle = mutedStyle
	ti.Focus()

	m := model{
		ctx:     ctx,
		orch:    orch,
		backend: cfg.Backend,
		input:   ti,
		view:    viewport.New(80, 20),
		changes: make(chan struct{}, 1),
		state:   orch.State(),
	}
	for _, turn := range orch.History() {
		m.lines = append(m.lines, chatLine{role: turn.Role, text: turn.Content})
	}
	if len(m.lines) == 0 {
		m.lines = append(m.lines, chatLine{role: models.TurnRoleAssistant, text: greeting})
	}
	m.refreshView()
	return m
}

// notify runs on the publisher's goroutine. One pending signal is enough
// since every refresh reads the whole state.
func (m model) notify(*models.Event) {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func (m model) waitForChange() tea.Cmd {
	changes := m.changes
	done := m.ctx.Done()
	return func() tea.Msg {
		select {
		case <-changes:
			return storeChangedMsg{}
		case <-done:
			return nil
		}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForChange())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case storeChangedMsg:
		m.state = m.orch.State()
		return m, m.waitForChange()

	case turnDoneMsg:
		m.busy = false
		m.state = m.orch.State()
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
			m.lines = append(m.lines, chatLine{role: models.TurnRoleSystem, text: msg.err.Error(), failed: true})
		} else {
			m.lines = append(m.lines, chatLine{role: models.TurnRoleAssistant, text: msg.result.Reply, failed: msg.result.Err != nil})
			if msg.result.Err != nil {
				m.setStatus(msg.result.Error, true)
			} else {
				m.setStatus(turnStatus(msg.result), false)
			}
		}
		m.refreshView()
		return m, nil

	case syncDoneMsg:
		m.busy = false
		m.state = m.orch.State()
		text := msg.outcome.Message
		if msg.err != nil && text == "" {
			text = msg.err.Error()
		}
		m.lines = append(m.lines, chatLine{role: models.TurnRoleSystem, text: text, failed: msg.err != nil})
		m.setStatus(text, msg.err != nil)
		m.refreshView()
		return m, nil

	case resetDoneMsg:
		m.busy = false
		m.state = m.orch.State()
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
			return m, nil
		}
		m.lines = []chatLine{{role: models.TurnRoleAssistant, text: greeting}}
		m.setStatus("session cleared", false)
		m.refreshView()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if m.busy {
		m.setStatus("still working on the last message", false)
		return m, nil
	}
	m.input.Reset()

	if strings.HasPrefix(text, "/") {
		return m.command(text)
	}

	m.lines = append(m.lines, chatLine{role: models.TurnRoleUser, text: text})
	m.busy = true
	m.setStatus("thinking...", false)
	m.refreshView()
	return m, m.turnCmd(text)
}

func (m model) command(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.lines = append(m.lines, chatLine{role: models.TurnRoleSystem, text: "/sync [task-id] saves the focus or a task, /reset clears the session, /quit leaves. PgUp/PgDn scroll."})
		m.refreshView()
		return m, nil
	case "/reset":
		m.busy = true
		orch := m.orch
		return m, func() tea.Msg { return resetDoneMsg{err: orch.Reset()} }
	case "/sync":
		id := ""
		if len(fields) > 1 {
			id = fields[1]
		} else if m.state.Focus != nil {
			id = m.state.Focus.ID
		}
		if id == "" {
			m.setStatus("no task to sync", true)
			return m, nil
		}
		m.busy = true
		m.setStatus("saving...", false)
		orch, ctx := m.orch, m.ctx
		return m, func() tea.Msg {
			outcome, err := orch.ForceSync(ctx, id)
			return syncDoneMsg{outcome: outcome, err: err}
		}
	}
	m.setStatus("unknown command "+fields[0], true)
	return m, nil
}

func (m model) turnCmd(text string) tea.Cmd {
	orch, ctx := m.orch, m.ctx
	return func() tea.Msg {
		result, err := orch.HandleTurn(ctx, text)
		return turnDoneMsg{result: result, err: err}
	}
}

func turnStatus(result conversation.TurnResult) string {
	switch {
	case len(result.Persisted) > 0:
		return fmt.Sprintf("saved %d task(s)", len(result.Persisted))
	case len(result.Completed) > 0:
		return fmt.Sprintf("%d task(s) complete", len(result.Completed))
	}
	return ""
}

func (m *model) setStatus(text string, isErr bool) {
	m.statusText = strings.TrimSpace(text)
	m.statusErr = isErr
}

func (m *model) sidebarWidth() int {
	w := m.width / 3
	if w < minSidebarWidth {
		w = minSidebarWidth
	}
	if w > maxSidebarWidth {
		w = maxSidebarWidth
	}
	return w
}

func (m *model) layout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	m.view.Width = maxInt(m.width-m.sidebarWidth()-1, 20)
	m.view.Height = maxInt(m.height-chromeRows, 3)
	m.input.Width = maxInt(m.width-4, 10)
	m.refreshView()
}

func (m *model) refreshView() {
	parts := make([]string, 0, len(m.lines))
	for _, line := range m.lines {
		parts = append(parts, renderLine(line, m.view.Width))
	}
	m.view.SetContent(strings.Join(parts, "\n\n"))
	m.view.GotoBottom()
}

func (m model) View() string {
	header := headerStyle.Render(fmt.Sprintf("bishma  session %s  store %s", shortID(m.state.SessionID), m.backend))

	body := m.view.View()
	if m.width >= m.view.Width+minSidebarWidth {
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, " ", renderSidebar(m.state, m.sidebarWidth()))
	}

	status := mutedStyle.Render(m.statusText)
	if m.statusErr {
		status = errStyle.Render(m.statusText)
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.input.View(), status)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
