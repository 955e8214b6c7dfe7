package protocol

import (
	"errors"
	"fmt"
	"io"
)

// MessageType identifies a server-to-client event envelope
type MessageType int32

// Message type tags as they appear on the wire
const (
	TypeChatMessage MessageType = 0 // username + text
	TypeUserJoined  MessageType = 1 // username
	TypeUserLeft    MessageType = 2 // username
)

// DefaultWelcomeFormat is the welcome line sent to a newly accepted peer
const DefaultWelcomeFormat = "Bienvenue sur le server, %s !"

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrFieldCount         = errors.New("wrong number of payload fields for message type")
	ErrEmptyUsername      = errors.New("username is empty")
	ErrInvalidListLength  = errors.New("invalid user list length")
)

func (t MessageType) String() string {
	switch t {
	case TypeChatMessage:
		return "CHAT_MESSAGE"
	case TypeUserJoined:
		return "USER_JOINED"
	case TypeUserLeft:
		return "USER_LEFT"
	default:
		return "UNKNOWN"
	}
}

// FieldCount returns how many payload strings follow the username for a type
func FieldCount(t MessageType) (int, error) {
	switch t {
	case TypeChatMessage:
		return 1, nil
	case TypeUserJoined, TypeUserLeft:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownMessageType, int32(t))
	}
}

// Envelope is a typed event broadcast by the server.
// Username is always the originating user; Fields holds the type-specific payload.
type Envelope struct {
	Type     MessageType
	Username string
	Fields   []string
}

// NewChatMessage builds a CHAT_MESSAGE envelope
func NewChatMessage(username, text string) *Envelope {
	return &Envelope{Type: TypeChatMessage, Username: username, Fields: []string{text}}
}

// NewUserJoined builds a USER_JOINED envelope
func NewUserJoined(username string) *Envelope {
	return &Envelope{Type: TypeUserJoined, Username: username}
}

// NewUserLeft builds a USER_LEFT envelope
func NewUserLeft(username string) *Envelope {
	return &Envelope{Type: TypeUserLeft, Username: username}
}

// Text returns the chat text of a CHAT_MESSAGE envelope, or "" for other types
func (e *Envelope) Text() string {
	if e.Type != TypeChatMessage || len(e.Fields) == 0 {
		return ""
	}
	return e.Fields[0]
}

// Validate checks the envelope against the field layout of its type
func (e *Envelope) Validate() error {
	n, err := FieldCount(e.Type)
	if err != nil {
		return err
	}
	if len(e.Fields) != n {
		return fmt.Errorf("%w: %s wants %d, got %d", ErrFieldCount, e.Type, n, len(e.Fields))
	}
	return nil
}

// EncodeTo writes the username and payload fields (everything after the type tag)
func (e *Envelope) EncodeTo(w io.Writer) error {
	if err := WriteString(w, e.Username); err != nil {
		return err
	}
	for _, f := range e.Fields {
		if err := WriteString(w, f); err != nil {
			return err
		}
	}
	return nil
}

// decodeBody reads the username and the payload fields for an already known type
func decodeBody(r io.Reader, t MessageType) (*Envelope, error) {
	n, err := FieldCount(t)
	if err != nil {
		return nil, err
	}

	username, err := ReadString(r)
	if err != nil {
		return nil, err
	}

	env := &Envelope{Type: t, Username: username}
	if n > 0 {
		env.Fields = make([]string, n)
		for i := range env.Fields {
			if env.Fields[i], err = ReadString(r); err != nil {
				return nil, err
			}
		}
	}
	return env, nil
}

// WriteUserList writes the registered usernames: [count (int32)][username]...
func WriteUserList(w io.Writer, users []string) error {
	if err := WriteInt32(w, int32(len(users))); err != nil {
		return err
	}
	for _, u := range users {
		if err := WriteString(w, u); err != nil {
			return err
		}
	}
	return nil
}

// ReadUserList reads a user list written by WriteUserList
func ReadUserList(r io.Reader) ([]string, error) {
	n, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidListLength, n)
	}

	users := make([]string, 0, min(int(n), 1024))
	for i := int32(0); i < n; i++ {
		u, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// WelcomeText renders the welcome line for username. An empty format uses DefaultWelcomeFormat.
func WelcomeText(format, username string) string {
	if format == "" {
		format = DefaultWelcomeFormat
	}
	return fmt.Sprintf(format, username)
}
