package main

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calcstream/internal/client"
	"calcstream/internal/models"
)

type fakeConn struct {
	submitted []string
	modes     []models.Mode
}

func (c *fakeConn) Run(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (c *fakeConn) Log() *client.LocalLog         { return client.NewLocalLog() }

func (c *fakeConn) Submit(expression string, mode models.Mode) error {
	c.submitted = append(c.submitted, expression)
	c.modes = append(c.modes, mode)
	return nil
}

func typeText(m model, text string) model {
	for _, r := range text {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = next.(model)
	}
	return m
}

func press(m model, key tea.KeyType) (model, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: key})
	return next.(model), cmd
}

func TestModelSubmit(t *testing.T) {
	conn := &fakeConn{}
	m := newModel(conn)

	next, _ := m.Update(stateMsg(true))
	m = next.(model)

	m = typeText(m, "1.5*2")
	m, _ = press(m, tea.KeyTab)
	assert.Equal(t, models.ModeFloat, m.mode)

	m, cmd := press(m, tea.KeyEnter)
	require.NotNil(t, cmd)
	assert.Nil(t, cmd())
	assert.Equal(t, []string{"1.5*2"}, conn.submitted)
	assert.Equal(t, []models.Mode{models.ModeFloat}, conn.modes)
	assert.Empty(t, m.input.Value())
}

func TestModelRejectsUnfinishedInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Незакрытая скобка", "(1+2"},
		{"Двойной оператор", "1++2"},
		{"Точка в режиме int", "1.5"},
		{"Пустой ввод", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{}
			m := newModel(conn)
			next, _ := m.Update(stateMsg(true))
			m = typeText(next.(model), tt.input)

			m, cmd := press(m, tea.KeyEnter)
			assert.Nil(t, cmd)
			assert.Empty(t, conn.submitted)
			assert.NotEmpty(t, m.status)
		})
	}
}

func TestModelOffline(t *testing.T) {
	conn := &fakeConn{}
	m := typeText(newModel(conn), "1+1")

	m, cmd := press(m, tea.KeyEnter)
	assert.Nil(t, cmd)
	assert.Empty(t, conn.submitted)
	assert.Equal(t, "нет соединения с сервером", m.status)
}

func TestModelShowsEntries(t *testing.T) {
	res := "4"
	entry := models.HistoryEntry{
		ID:         7,
		Timestamp:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Expression: "2+2",
		Mode:       models.ModeInt,
		Result:     &res,
	}

	next, _ := newModel(&fakeConn{}).Update(entriesMsg{entry})
	m := next.(model)
	require.Len(t, m.rows, 1)
	assert.Contains(t, m.View(), "#7")
	assert.Contains(t, m.View(), "2+2  = 4")
}
