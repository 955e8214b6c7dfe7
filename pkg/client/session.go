package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/chatapp/pkg/protocol"
)

var (
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyListening  = errors.New("already listening")
	ErrAddressResolution = errors.New("address resolution failed")
)

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithCodec sets the envelope codec; it must match the server's
func WithCodec(codec protocol.Codec) SessionOption {
	return func(s *Session) { s.codec = codec }
}

// WithLogger sets a logger for debugging connection events
func WithLogger(logger *log.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithResolver replaces the DNS resolver used by Connect
func WithResolver(r Resolver) SessionOption {
	return func(s *Session) { s.resolver = r }
}

// WithDialTimeout bounds the TCP and WebSocket dial
func WithDialTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.dialTimeout = d }
}

// link is one connection attempt: a socket plus its handshake and listener state
type link struct {
	conn     net.Conn
	reader   *bufio.Reader
	writer   io.Writer
	username string

	accepted  bool // guarded by Session.mu
	listening bool // guarded by Session.mu

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		if tcpConn, ok := l.conn.(*net.TCPConn); ok {
			tcpConn.CloseRead()
			tcpConn.CloseWrite()
		}
		l.conn.Close()
	})
}

// Session is a client's connection to one chat server.
// At most one connection is live at a time; Connect replaces the previous one.
type Session struct {
	codec       protocol.Codec
	logger      *log.Logger
	resolver    Resolver
	dialTimeout time.Duration
	events      observers

	mu       sync.Mutex
	cur      *link
	lastDone chan struct{}

	writeMu sync.Mutex

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

// NewSession creates a disconnected session
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		codec:       protocol.LegacyCodec{},
		resolver:    net.DefaultResolver,
		dialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// logf logs a message if a logger is set
func (s *Session) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Subscribe registers fn for events of kind and returns a function that removes it.
// Handlers run on the listener goroutine, in delivery order.
func (s *Session) Subscribe(kind EventKind, fn Handler) func() {
	return s.events.subscribe(kind, fn)
}

// Connect resolves host to an IPv4 address, dials it and offers username.
// It returns false with a nil error when the server rejects the username; the
// socket stays open until Disconnect or the next Connect.
func (s *Session) Connect(ctx context.Context, host string, port int, username string) (bool, error) {
	ip, err := s.resolveIPv4(ctx, host)
	if err != nil {
		return false, err
	}

	s.Disconnect()

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	s.logf("Connecting to %s (%s)...", addr, host)

	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		s.logf("Connection failed: %v", err)
		return false, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	return s.handshake(conn, username)
}

// ConnectWebSocket performs the same handshake over the server's /ws bridge.
// rawURL may be a ws:// or wss:// URL, or host:port.
func (s *Session) ConnectWebSocket(ctx context.Context, rawURL, username string) (bool, error) {
	s.Disconnect()

	s.logf("Connecting to %s over WebSocket...", rawURL)
	conn, err := DialWebSocket(ctx, rawURL, s.dialTimeout)
	if err != nil {
		s.logf("WebSocket connection failed: %v", err)
		return false, err
	}

	return s.handshake(conn, username)
}

func (s *Session) resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("%w: %s is not an IPv4 address", ErrAddressResolution, host)
	}

	ips, err := s.resolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAddressResolution, host, err)
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("%w: no IPv4 address for %s", ErrAddressResolution, host)
}

// handshake sends username and reads the acceptance flag. The link becomes
// current either way so a rejected socket can be closed by Disconnect.
func (s *Session) handshake(conn net.Conn, username string) (bool, error) {
	l := &link{
		conn:     conn,
		reader:   bufio.NewReader(&countingReader{r: conn, counter: &s.bytesReceived}),
		writer:   &countingWriter{w: conn, counter: &s.bytesSent},
		username: username,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.cur = l
	s.mu.Unlock()

	if err := s.write(l, username); err != nil {
		s.Disconnect()
		return false, err
	}

	accepted, err := protocol.ReadBool(l.reader)
	if err != nil {
		s.Disconnect()
		return false, err
	}

	s.mu.Lock()
	l.accepted = accepted
	s.mu.Unlock()

	if accepted {
		s.logf("Connected as %q to %s", username, conn.RemoteAddr())
	} else {
		s.logf("Username %q rejected by %s", username, conn.RemoteAddr())
	}
	return accepted, nil
}

// handshakeLink returns the current accepted link that is not yet listening
func (s *Session) handshakeLink() (*link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.cur
	if l == nil || !l.accepted {
		return nil, ErrNotConnected
	}
	if l.listening {
		return nil, ErrAlreadyListening
	}
	return l, nil
}

// ReceiveUserList reads the user snapshot the server sends after acceptance.
// It must be called before ReceiveWelcomeMessage.
func (s *Session) ReceiveUserList() ([]string, error) {
	l, err := s.handshakeLink()
	if err != nil {
		return nil, err
	}
	return protocol.ReadUserList(l.reader)
}

// ReceiveWelcomeMessage reads the welcome text that follows the user list
func (s *Session) ReceiveWelcomeMessage() (string, error) {
	l, err := s.handshakeLink()
	if err != nil {
		return "", err
	}
	return protocol.ReadString(l.reader)
}

// StartListening starts the background loop that decodes envelopes and
// dispatches them to observers
func (s *Session) StartListening() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.cur
	if l == nil || !l.accepted {
		return ErrNotConnected
	}
	if l.listening {
		return ErrAlreadyListening
	}
	l.listening = true
	s.lastDone = l.done

	go s.listen(l)
	return nil
}

// Done returns a channel closed when the most recent listener exits.
// It is already closed if no listener was ever started.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastDone == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return s.lastDone
}

func (s *Session) listen(l *link) {
	defer close(l.done)

	for {
		env, err := s.codec.ReadEnvelope(l.reader)
		if err != nil {
			if l.closing.Load() {
				s.logf("Listener stopped after disconnect: %v", err)
				return
			}
			if !errors.Is(err, protocol.ErrStreamClosed) {
				err = fmt.Errorf("%w: %w", protocol.ErrStreamClosed, err)
			}
			s.logf("Connection lost: %v", err)
			l.close()
			s.events.emit(Event{Kind: EventConnectionLost, Err: err})
			return
		}

		s.logf("← RECV: Type=%s User=%q", env.Type, env.Username)

		switch env.Type {
		case protocol.TypeChatMessage:
			s.events.emit(Event{Kind: EventChatMessage, Username: env.Username, Text: env.Text()})
		case protocol.TypeUserJoined:
			s.events.emit(Event{Kind: EventUserJoined, Username: env.Username})
		case protocol.TypeUserLeft:
			s.events.emit(Event{Kind: EventUserLeft, Username: env.Username})
		}
	}
}

// SendChatMessage sends text to the server. No acknowledgment is awaited; the
// server echoes the message back as a chat event.
func (s *Session) SendChatMessage(text string) error {
	s.mu.Lock()
	l := s.cur
	accepted := l != nil && l.accepted
	s.mu.Unlock()

	if !accepted {
		return ErrNotConnected
	}
	return s.write(l, text)
}

// write sends one length-prefixed string in a single write
func (s *Session) write(l *link, text string) error {
	var buf bytes.Buffer
	if err := protocol.WriteString(&buf, text); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := l.writer.Write(buf.Bytes()); err != nil {
		return errors.Join(protocol.ErrStreamClosed, err)
	}
	return nil
}

// Disconnect shuts down and closes the current connection. A listener stopped
// this way does not raise EventConnectionLost. Calling it again is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	l := s.cur
	s.cur = nil
	s.mu.Unlock()

	if l == nil {
		return nil
	}

	s.logf("Disconnecting from %s", l.conn.RemoteAddr())
	l.closing.Store(true)
	l.close()
	return nil
}

// IsConnected reports whether an accepted connection is current
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil && s.cur.accepted
}

// Username returns the accepted username, or "" when not connected
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || !s.cur.accepted {
		return ""
	}
	return s.cur.username
}

// BytesSent returns the total bytes written across all connections
func (s *Session) BytesSent() uint64 {
	return s.bytesSent.Load()
}

// BytesReceived returns the total bytes read across all connections
func (s *Session) BytesReceived() uint64 {
	return s.bytesReceived.Load()
}
