package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"calcstream/internal/client"
	"calcstream/internal/models"
	"calcstream/internal/parser"
	"calcstream/internal/types"
)

func newTUICommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Интерактивная таблица истории с полем ввода",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var program *tea.Program

			conn, closeConn, err := opts.connect(client.Options{
				OnUpdate:   func(added []models.HistoryEntry) { program.Send(entriesMsg(added)) },
				OnState:    func(connected bool) { program.Send(stateMsg(connected)) },
				OnRejected: func(msg types.ServerMessage) { program.Send(rejectedMsg(msg)) },
			})
			if err != nil {
				return err
			}
			defer closeConn()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			program = tea.NewProgram(newModel(conn), tea.WithAltScreen(), tea.WithContext(ctx))
			go conn.Run(ctx)

			if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return nil
		},
	}
}

type (
	entriesMsg   []models.HistoryEntry
	stateMsg     bool
	rejectedMsg  types.ServerMessage
	submitErrMsg struct{ err error }
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
	onlineBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Background(lipgloss.Color("22")).
			Padding(0, 1)
	offlineBadge = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Background(lipgloss.Color("52")).
			Padding(0, 1)
	resultStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// model - таблица истории и строка ввода. Проверка ввода только
// подсказывает пользователю; окончательное решение за вычислителем.
type model struct {
	conn      client.Conn
	input     textinput.Model
	mode      models.Mode
	rows      []models.HistoryEntry
	connected bool
	status    string
	height    int
}

func newModel(conn client.Conn) model {
	ti := textinput.New()
	ti.Placeholder = "2 + 2 * 2"
	ti.CharLimit = 256
	ti.Width = 48
	ti.Focus()

	return model{
		conn:   conn,
		input:  ti,
		mode:   models.ModeInt,
		height: 24,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "tab":
			if m.mode == models.ModeInt {
				m.mode = models.ModeFloat
			} else {
				m.mode = models.ModeInt
			}
			return m, nil
		case "enter":
			return m.submit()
		}

	case entriesMsg:
		m.rows = append(m.rows, msg...)
		return m, nil

	case stateMsg:
		m.connected = bool(msg)
		return m, nil

	case rejectedMsg:
		m.status = fmt.Sprintf("отклонено (%s): %s", msg.Code, msg.Message)
		return m, nil

	case submitErrMsg:
		m.status = "ошибка отправки: " + msg.err.Error()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) submit() (tea.Model, tea.Cmd) {
	expr := m.input.Value()
	if v := parser.Check(expr, m.mode); v != parser.Acceptable {
		m.status = "нельзя отправить: " + parser.Problem(expr, m.mode)
		return m, nil
	}
	if !m.connected {
		m.status = "нет соединения с сервером"
		return m, nil
	}

	m.input.SetValue("")
	m.status = ""
	conn, mode := m.conn, m.mode
	return m, func() tea.Msg {
		if err := conn.Submit(expr, mode); err != nil {
			return submitErrMsg{err}
		}
		return nil
	}
}

func (m model) View() string {
	var b strings.Builder

	badge := offlineBadge.Render("offline")
	if m.connected {
		badge = onlineBadge.Render("online")
	}
	b.WriteString(titleStyle.Render("calcstream") + "  " + badge + "\n\n")

	visible := max(m.height-8, 5)
	rows := m.rows
	if len(rows) > visible {
		rows = rows[len(rows)-visible:]
	}
	if len(rows) == 0 {
		b.WriteString(dimStyle.Render("история пуста") + "\n")
	}
	for _, e := range rows {
		line := formatEntry(e)
		if e.Error != nil {
			line = errorStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	expr := m.input.Value()
	prompt := resultStyle
	switch parser.Check(expr, m.mode) {
	case parser.Invalid:
		prompt = errorStyle
	case parser.Intermediate:
		prompt = pendingStyle
	}
	b.WriteString("\n" + prompt.Render(fmt.Sprintf("[%s]", m.mode)) + " " + m.input.View() + "\n")

	if m.status != "" {
		b.WriteString(errorStyle.Render(m.status) + "\n")
	}
	b.WriteString(dimStyle.Render("enter: отправить • tab: режим int/float • esc: выход"))
	return b.String()
}
