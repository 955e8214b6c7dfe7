package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Layout constants
const (
	userPaneWidth = 22
	chromeHeight  = 1 + 3 + 1 + 2 // header, input box, footer, chat pane border
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		w, h := m.chatViewportSize()
		if !m.ready {
			m.viewport = viewport.New(w, h)
			m.ready = true
		} else {
			m.viewport.Width = w
			m.viewport.Height = h
		}
		m.input.Width = max(10, msg.Width-6)
		m.viewport.SetContent(m.buildTranscript())
		m.viewport.GotoBottom()
		return m, nil

	case ChatMsg:
		m.appendLine(chatLine{kind: lineChat, username: msg.Username, text: msg.Text})
		return m, waitForEvent(m.bridge)

	case UserJoinedMsg:
		m.addUser(msg.Username)
		m.appendLine(chatLine{kind: lineJoined, username: msg.Username})
		return m, waitForEvent(m.bridge)

	case UserLeftMsg:
		m.removeUser(msg.Username)
		m.appendLine(chatLine{kind: lineLeft, username: msg.Username})
		return m, waitForEvent(m.bridge)

	case ConnectionLostMsg:
		// The listener has exited; no further events will arrive
		m.lost = true
		m.input.Blur()
		m.appendLine(chatLine{kind: lineFatal, text: ConnectionLostText})
		if m.notify {
			return m, alertCmd(m.alert, ConnectionLostText)
		}
		return m, nil

	case SendResultMsg:
		if msg.Err != nil && !m.lost {
			m.errorMessage = msg.Err.Error()
		}
		return m, nil

	case alertResultMsg:
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleKeyPress handles keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Once the server is gone any key leaves
	if m.lost {
		return m.quit()
	}

	switch msg.String() {
	case "ctrl+c", "esc":
		return m.quit()

	case "enter":
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		m.input.Reset()
		m.errorMessage = ""
		return m, sendCmd(m.session, text)

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// chatViewportSize returns the transcript area inside the chat pane
func (m Model) chatViewportSize() (int, int) {
	w := m.width - userPaneWidth - 4 - 2 // chat pane border+padding, gap
	h := m.height - chromeHeight
	return max(10, w), max(3, h)
}
