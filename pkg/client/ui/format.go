package ui

import "fmt"

// Visible texts of the chat view
const (
	AppTitle            = "chatapp"
	ConnectionLostText  = "Le serveur n'est plus accessible."
	UsernameTakenText   = "Ce pseudo est déjà pris."
	quitAfterLossPrompt = "Appuyez sur une touche pour quitter."
)

// FormatChat renders a chat line as "{username}: {text}"
func FormatChat(username, text string) string {
	return fmt.Sprintf("%s: %s", username, text)
}

// FormatJoined renders a join notice
func FormatJoined(username string) string {
	return fmt.Sprintf("%s vient de se connecter.", username)
}

// FormatLeft renders a leave notice
func FormatLeft(username string) string {
	return fmt.Sprintf("%s s'est déconnecté.", username)
}

// lineKind distinguishes how a transcript line is styled
type lineKind int

const (
	lineChat lineKind = iota
	lineJoined
	lineLeft
	lineNotice
	lineFatal
)

type chatLine struct {
	kind     lineKind
	username string
	text     string
}

// plain returns the unstyled text of the line
func (l chatLine) plain() string {
	switch l.kind {
	case lineChat:
		return FormatChat(l.username, l.text)
	case lineJoined:
		return FormatJoined(l.username)
	case lineLeft:
		return FormatLeft(l.username)
	default:
		return l.text
	}
}

// FormatBytes formats a byte count in binary units (B, KB, MB, ...)
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
