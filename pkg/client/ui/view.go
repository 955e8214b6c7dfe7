package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View renders the model
func (m Model) View() string {
	if !m.ready || m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	if m.lost {
		return m.renderConnectionLost()
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderChatPane(),
		" ",
		m.renderUserPane(),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		InputStyle.Width(max(10, m.width-2)).Render(m.input.View()),
		m.renderFooter(),
	)
}

func (m Model) renderHeader() string {
	left := HeaderStyle.Render(AppTitle)

	status := fmt.Sprintf("Connected: %s", m.username)
	if m.host != "" {
		status += " @ " + m.host
	}
	status += fmt.Sprintf("  %d users", len(m.users))
	right := StatusStyle.Render(status)

	spacer := strings.Repeat(" ", max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)))
	return left + spacer + right
}

func (m Model) renderChatPane() string {
	return ChatPaneStyle.Render(m.viewport.View())
}

func (m Model) renderUserPane() string {
	var b strings.Builder
	b.WriteString(PaneTitleStyle.Render(fmt.Sprintf("Users (%d)", len(m.users))))
	b.WriteString("\n")

	for _, u := range m.users {
		name := truncateString(u, userPaneWidth-4)
		if u == m.username {
			b.WriteString(OwnUserItemStyle.Render(name))
		} else {
			b.WriteString(UserItemStyle.Render(name))
		}
		b.WriteString("\n")
	}

	return UserPaneStyle.
		Width(userPaneWidth - 2).
		Height(m.viewport.Height).
		Render(strings.TrimSuffix(b.String(), "\n"))
}

func (m Model) renderFooter() string {
	footer := RenderShortcut("enter", "Send") + "  " +
		RenderShortcut("pgup/pgdn", "Scroll") + "  " +
		RenderShortcut("esc", "Quit") + "  " +
		StatusStyle.Render(fmt.Sprintf("up %s down %s",
			FormatBytes(m.session.BytesSent()), FormatBytes(m.session.BytesReceived())))

	if m.errorMessage != "" {
		footer += "  " + RenderError(m.errorMessage)
	}
	return FooterStyle.Render(footer)
}

func (m Model) renderConnectionLost() string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		ErrorStyle.Render(ConnectionLostText),
		"",
		NoticeStyle.Render(quitAfterLossPrompt),
	)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, ModalStyle.Render(content))
}

// buildTranscript renders every line wrapped to the viewport width
func (m Model) buildTranscript() string {
	width := m.viewport.Width
	rendered := make([]string, 0, len(m.lines))

	for _, l := range m.lines {
		var line string
		switch l.kind {
		case lineChat:
			author := MessageAuthorStyle
			if l.username == m.username {
				author = MessageOwnAuthorStyle
			}
			line = author.Render(l.username+":") + " " + MessageContentStyle.Render(l.text)
		case lineJoined, lineLeft, lineNotice:
			line = NoticeStyle.Render(l.plain())
		case lineFatal:
			line = ErrorStyle.Render(l.plain())
		}

		if width > 0 {
			line = lipgloss.NewStyle().Width(width).Render(line)
		}
		rendered = append(rendered, line)
	}

	return strings.Join(rendered, "\n")
}

// truncateString shortens s to maxLen visible characters with an ellipsis
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if maxLen <= 0 || len(runes) <= maxLen {
		return s
	}
	if maxLen == 1 {
		return "…"
	}
	return string(runes[:maxLen-1]) + "…"
}
