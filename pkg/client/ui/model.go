package ui

import (
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aeolun/chatapp/pkg/client"
)

// Messages produced from session events
type (
	ChatMsg struct {
		Username string
		Text     string
	}
	UserJoinedMsg struct {
		Username string
	}
	UserLeftMsg struct {
		Username string
	}
	ConnectionLostMsg struct {
		Err error
	}
	SendResultMsg struct {
		Err error
	}
)

// Options configures the chat view
type Options struct {
	Host   string    // shown in the header
	Notify bool      // raise a desktop alert when the server is lost
	Alert  AlertFunc // nil uses DesktopAlert
}

// bridge forwards session events, raised on the listener goroutine, into the
// bubbletea loop. It is shared by every copy of the Model.
type bridge struct {
	events    chan tea.Msg
	done      chan struct{}
	closeOnce sync.Once
	unsubs    []func()
}

func newBridge(session client.ChatSession) *bridge {
	b := &bridge{
		events: make(chan tea.Msg, 256),
		done:   make(chan struct{}),
	}

	b.unsubs = []func(){
		session.Subscribe(client.EventChatMessage, func(ev client.Event) {
			b.forward(ChatMsg{Username: ev.Username, Text: ev.Text})
		}),
		session.Subscribe(client.EventUserJoined, func(ev client.Event) {
			b.forward(UserJoinedMsg{Username: ev.Username})
		}),
		session.Subscribe(client.EventUserLeft, func(ev client.Event) {
			b.forward(UserLeftMsg{Username: ev.Username})
		}),
		session.Subscribe(client.EventConnectionLost, func(ev client.Event) {
			b.forward(ConnectionLostMsg{Err: ev.Err})
		}),
	}
	return b
}

// forward blocks until the UI takes msg or the bridge is closed
func (b *bridge) forward(msg tea.Msg) {
	select {
	case b.events <- msg:
	case <-b.done:
	}
}

func (b *bridge) close() {
	b.closeOnce.Do(func() {
		for _, unsub := range b.unsubs {
			unsub()
		}
		close(b.done)
	})
}

// waitForEvent delivers the next session event to Update
func waitForEvent(b *bridge) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.events:
			return msg
		case <-b.done:
			return nil
		}
	}
}

// Model is the chat view: transcript, user list and input line
type Model struct {
	session  client.ChatSession
	bridge   *bridge
	username string
	host     string

	users []string // connection order
	lines []chatLine

	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int
	ready    bool

	lost         bool
	errorMessage string
	notify       bool
	alert        AlertFunc
}

// NewModel builds the chat view for a session that completed its handshake.
// users and welcome are what ReceiveUserList and ReceiveWelcomeMessage returned.
func NewModel(session client.ChatSession, users []string, welcome string, opts Options) Model {
	input := textinput.New()
	input.Placeholder = "Message"
	input.CharLimit = 4096
	input.Focus()

	alert := opts.Alert
	if alert == nil {
		alert = DesktopAlert
	}

	m := Model{
		session:  session,
		bridge:   newBridge(session),
		username: session.Username(),
		host:     opts.Host,
		users:    append([]string(nil), users...),
		input:    input,
		notify:   opts.Notify,
		alert:    alert,
	}
	if welcome != "" {
		m.lines = append(m.lines, chatLine{kind: lineNotice, text: welcome})
	}
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.bridge))
}

// Users returns the current user list in connection order
func (m Model) Users() []string {
	return append([]string(nil), m.users...)
}

// Transcript returns the unstyled transcript lines
func (m Model) Transcript() []string {
	out := make([]string, len(m.lines))
	for i, l := range m.lines {
		out[i] = l.plain()
	}
	return out
}

// Lost reports whether the server connection was lost
func (m Model) Lost() bool {
	return m.lost
}

func (m *Model) addUser(username string) {
	for _, u := range m.users {
		if u == username {
			return
		}
	}
	m.users = append(m.users, username)
}

func (m *Model) removeUser(username string) {
	for i, u := range m.users {
		if u == username {
			m.users = append(m.users[:i], m.users[i+1:]...)
			return
		}
	}
}

func (m *Model) appendLine(l chatLine) {
	m.lines = append(m.lines, l)
	if m.ready {
		atBottom := m.viewport.AtBottom()
		m.viewport.SetContent(m.buildTranscript())
		if atBottom {
			m.viewport.GotoBottom()
		}
	}
}

// sendCmd sends text without blocking the UI loop
func sendCmd(session client.ChatSession, text string) tea.Cmd {
	return func() tea.Msg {
		return SendResultMsg{Err: session.SendChatMessage(text)}
	}
}

// quit disconnects the session and stops the program
func (m Model) quit() (tea.Model, tea.Cmd) {
	m.bridge.close()
	m.session.Disconnect()
	return m, tea.Quit
}
