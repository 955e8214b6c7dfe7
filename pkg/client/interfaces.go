package client

// ChatSession is the part of Session the presentation layer drives.
// It allows for mocking in tests while the real Session implements all these methods.
type ChatSession interface {
	Subscribe(kind EventKind, fn Handler) func()
	SendChatMessage(text string) error
	Disconnect() error
	Username() string
	BytesSent() uint64
	BytesReceived() uint64
}

// StateInterface defines the interface for client state persistence
type StateInterface interface {
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error
	GetLastUsername() string
	SaveConnection(host string, port int, username string) error
	LastProfile() (*Profile, error)
	UsernameFor(host string, port int) string
	Close() error
}

var (
	_ ChatSession    = (*Session)(nil)
	_ StateInterface = (*State)(nil)
)
