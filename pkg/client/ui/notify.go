package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"
)

// AlertFunc raises a desktop alert
type AlertFunc func(title, message string) error

// DesktopAlert shows a native alert dialog or notification
func DesktopAlert(title, message string) error {
	return beeep.Alert(title, message, "")
}

// alertResultMsg reports a failed alert; the in-terminal overlay is still shown
type alertResultMsg struct {
	Err error
}

func alertCmd(alert AlertFunc, message string) tea.Cmd {
	return func() tea.Msg {
		return alertResultMsg{Err: alert(AppTitle, message)}
	}
}
