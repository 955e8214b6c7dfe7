package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aeolun/chatapp/pkg/protocol"
)

var (
	logOutput    io.Writer = os.Stderr
	debugEnabled bool
	errorLog     = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lmicroseconds)
	debugLog     = log.New(io.Discard, "DEBUG: ", log.Ldate|log.Ltime|log.Lmicroseconds)
)

// SetLogOutput redirects the server's error and debug loggers
func SetLogOutput(w io.Writer) {
	logOutput = w
	errorLog.SetOutput(w)
	if debugEnabled {
		debugLog.SetOutput(w)
	}
}

var (
	ErrAlreadyStarted       = errors.New("server already started")
	ErrNotStarted           = errors.New("server not started")
	ErrStopped              = errors.New("server stopped")
	ErrUnknownBroadcastMode = errors.New("unknown broadcast mode")
)

// Broadcast modes
const (
	// BroadcastSequential writes each broadcast inline to every peer in turn,
	// so a stalled peer delays the peers after it.
	BroadcastSequential = "sequential"
	// BroadcastQueued hands each peer its bytes through a bounded outbound queue.
	BroadcastQueued = "queued"
)

// State is the lifecycle position of a Server
type State int

const (
	StateCreated State = iota
	StateStarted
	StateAccepting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateAccepting:
		return "accepting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Backlog       int
	WelcomeFormat string
	BroadcastMode string
	QueueSize     int
	Codec         string
	HTTPAddr      string // empty disables /health, /metrics and /ws
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Backlog:       10,
		WelcomeFormat: protocol.DefaultWelcomeFormat,
		BroadcastMode: BroadcastSequential,
		QueueSize:     256,
		Codec:         protocol.CodecLegacy,
	}
}

// Server owns the listening socket and the registry of connected peers
type Server struct {
	config   ServerConfig
	codec    protocol.Codec
	peers    *Registry
	metrics  *Metrics
	registry *prometheus.Registry

	mu           sync.Mutex // guards everything below
	state        State
	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	conns        map[net.Conn]struct{} // every live connection, closed by Stop
	startTime    time.Time

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a server in the Created state
func NewServer(config ServerConfig) (*Server, error) {
	codec, err := protocol.CodecByName(config.Codec)
	if err != nil {
		return nil, err
	}

	switch config.BroadcastMode {
	case "":
		config.BroadcastMode = BroadcastSequential
	case BroadcastSequential, BroadcastQueued:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBroadcastMode, config.BroadcastMode)
	}

	if config.Backlog <= 0 {
		config.Backlog = DefaultConfig().Backlog
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	return &Server{
		config:   config,
		codec:    codec,
		peers:    NewRegistry(codec, metrics),
		metrics:  metrics,
		registry: reg,
		state:    StateCreated,
		conns:    make(map[net.Conn]struct{}),
		shutdown: make(chan struct{}),
	}, nil
}

// EnableDebugLogging turns on debug output for every server in the process
func (s *Server) EnableDebugLogging() {
	debugEnabled = true
	debugLog.SetOutput(logOutput)
}

// State returns the current lifecycle state
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound TCP address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the bound admin HTTP address, or nil when disabled
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Usernames returns the registered usernames in connection order
func (s *Server) Usernames() []string {
	return s.peers.Usernames()
}

// Start binds the IPv4 listening socket on port (0 picks a free port)
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, s.state)
	}

	listener, err := listenTCP(port, s.config.Backlog)
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	if s.config.HTTPAddr != "" {
		httpListener, err := net.Listen("tcp", s.config.HTTPAddr)
		if err != nil {
			listener.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.config.HTTPAddr, err)
		}
		s.httpListener = httpListener
		s.httpServer = &http.Server{
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	s.listener = listener
	s.startTime = time.Now()
	s.state = StateStarted
	logListenBacklog(listener.Addr().String(), s.config.Backlog)

	return nil
}

// StartAccepting launches the accept loop (and the admin HTTP server when configured)
func (s *Server) StartAccepting() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStarted {
		return fmt.Errorf("%w (state %s)", ErrNotStarted, s.state)
	}
	s.state = StateAccepting

	s.wg.Add(1)
	go s.acceptLoop(s.listener)

	if s.httpServer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			log.Printf("Admin HTTP listening on %s", s.httpListener.Addr())
			if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorLog.Printf("Admin HTTP server error: %v", err)
			}
		}()
	}

	return nil
}

// Stop disconnects every peer and closes the listening socket.
// It is a no-op if the server was never started or is already stopped.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state == StateCreated || s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	close(s.shutdown)

	pending := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		pending = append(pending, conn)
	}
	listener := s.listener
	httpListener := s.httpListener
	httpServer := s.httpServer
	s.mu.Unlock()

	// Closing the sockets first fails any broadcast write stuck on a stalled
	// peer, which releases the registry lock CloseAll needs
	for _, conn := range pending {
		conn.Close()
	}
	s.peers.CloseAll()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	if httpServer != nil {
		// Close rather than Shutdown: /ws connections are hijacked and would not drain
		httpServer.Close()
		httpListener.Close()
	}

	s.wg.Wait()
	log.Printf("Server stopped")
	return err
}

func (s *Server) isStopped() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// trackConn records a live connection so Stop can close it; it returns false once stopped
func (s *Server) trackConn(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isStopped() {
				return
			}
			errorLog.Printf("Accept error: %v", err)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		// Disable Nagle's algorithm for immediate sends
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		go s.serveConn(conn)
	}
}

// serveConn runs the handshake for one connection and, once accepted, becomes
// that peer's read loop. It is shared by the TCP and WebSocket transports.
func (s *Server) serveConn(conn net.Conn) {
	if !s.trackConn(conn) {
		conn.Close()
		return
	}
	defer s.untrackConn(conn)

	debugLog.Printf("New connection from %s", conn.RemoteAddr())
	reader := bufio.NewReader(conn)

	// A rejected candidate may retry on the same socket
	for {
		username, err := protocol.ReadString(reader)
		if err != nil {
			debugLog.Printf("Handshake from %s ended: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}

		peer, err := s.admit(conn, reader, username)
		if err != nil {
			errorLog.Printf("Handshake with %s failed: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		if peer != nil {
			s.readLoop(peer)
			return
		}
	}
}

// admit checks username and registers the peer. It returns a nil peer (and nil
// error) when the username is rejected.
//
// Everything happens under the registry lock: the acceptance flag, the
// USER_JOINED broadcast to the peers already present, the registration, and
// the user list and welcome text for the newcomer. No broadcast can therefore
// reach the new peer before its handshake data, and it never sees its own join.
func (s *Server) admit(conn net.Conn, reader *bufio.Reader, username string) (*Peer, error) {
	r := s.peers
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrStopped
	}

	if username == "" || r.containsLocked(username) {
		log.Printf("Rejected username %q from %s", username, conn.RemoteAddr())
		s.metrics.RecordHandshakeRejected()
		if err := protocol.WriteBool(conn, false); err != nil {
			return nil, err
		}
		return nil, nil
	}

	queueSize := 0
	if s.config.BroadcastMode == BroadcastQueued {
		queueSize = s.config.QueueSize
	}
	peer := newPeer(username, conn, reader, s.codec, queueSize)

	var flag [1]byte
	flag[0] = 0x01
	if err := peer.deliver(flag[:]); err != nil {
		peer.Disconnect()
		return nil, err
	}

	r.broadcastLocked(protocol.NewUserJoined(username))
	r.addLocked(peer)
	s.metrics.RecordPeerJoined()

	var hello bytes.Buffer
	if err := protocol.WriteUserList(&hello, r.usernamesLocked()); err != nil {
		peer.Disconnect()
		return peer, nil
	}
	if err := protocol.WriteString(&hello, protocol.WelcomeText(s.config.WelcomeFormat, username)); err != nil {
		peer.Disconnect()
		return peer, nil
	}
	if err := peer.deliver(hello.Bytes()); err != nil {
		// The read loop will observe the closed socket and announce the departure
		peer.Disconnect()
	}

	log.Printf("User %q joined from %s (peer %s, %d online)", username, conn.RemoteAddr(), peer.ID, len(r.peers))
	return peer, nil
}

// readLoop reads chat strings from one peer and broadcasts them to everyone,
// the sender included. On any stream error the peer is deregistered and the
// remaining peers are told it left.
func (s *Server) readLoop(p *Peer) {
	for {
		text, err := p.ReadChat()
		if err != nil {
			p.Disconnect()
			if s.peers.Remove(p, protocol.NewUserLeft(p.Username)) {
				s.metrics.RecordPeerLeft()
				log.Printf("User %q left (%v)", p.Username, err)
			}
			return
		}

		s.metrics.RecordMessageReceived()
		debugLog.Printf("Peer %s (%s) ← CHAT len=%d", p.ID, p.Username, len(text))
		s.peers.Broadcast(protocol.NewChatMessage(p.Username, text))
	}
}
