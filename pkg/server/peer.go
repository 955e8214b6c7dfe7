package server

import (
	"bufio"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/aeolun/chatapp/pkg/protocol"
)

// ErrQueueFull is returned when a queued peer cannot keep up with broadcasts
var ErrQueueFull = errors.New("peer outbound queue full")

// Peer represents one registered client connection on the server.
//
// Writes are serialized by writeMu so the coordinator may deliver to a peer from
// any goroutine while the peer's own read loop uses the independent read side.
// In queued mode all writes go through outbox and a dedicated writer goroutine,
// which keeps per-peer ordering while decoupling broadcast latency between peers.
type Peer struct {
	ID       uuid.UUID
	Username string

	conn   net.Conn
	reader *bufio.Reader
	codec  protocol.Codec

	writeMu sync.Mutex
	outbox  chan []byte // nil in sequential mode

	closeOnce sync.Once
	closed    chan struct{}
}

// newPeer wraps an accepted connection. queueSize > 0 enables the outbound queue.
func newPeer(username string, conn net.Conn, reader *bufio.Reader, codec protocol.Codec, queueSize int) *Peer {
	p := &Peer{
		ID:       uuid.New(),
		Username: username,
		conn:     conn,
		reader:   reader,
		codec:    codec,
		closed:   make(chan struct{}),
	}

	if queueSize > 0 {
		p.outbox = make(chan []byte, queueSize)
		go p.writeLoop()
	}

	return p
}

// Send encodes and delivers one envelope to the peer
func (p *Peer) Send(env *protocol.Envelope) error {
	data, err := protocol.EncodeEnvelope(p.codec, env)
	if err != nil {
		return err
	}
	return p.deliver(data)
}

// deliver writes pre-encoded bytes, inline or through the outbound queue
func (p *Peer) deliver(data []byte) error {
	if p.outbox == nil {
		return p.writeRaw(data)
	}

	select {
	case <-p.closed:
		return protocol.ErrStreamClosed
	default:
	}

	select {
	case p.outbox <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// writeRaw writes bytes directly to the connection with write synchronization
func (p *Peer) writeRaw(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := p.conn.Write(data); err != nil {
		return errors.Join(protocol.ErrStreamClosed, err)
	}
	return nil
}

// writeLoop drains the outbound queue until the peer is disconnected
func (p *Peer) writeLoop() {
	for {
		select {
		case data := <-p.outbox:
			if err := p.writeRaw(data); err != nil {
				debugLog.Printf("Peer %s (%s): queued write failed: %v", p.ID, p.Username, err)
				p.Disconnect()
				return
			}
		case <-p.closed:
			return
		}
	}
}

// ReadChat blocks until the peer sends one chat string
func (p *Peer) ReadChat() (string, error) {
	return protocol.ReadString(p.reader)
}

// Disconnect shuts down both directions and closes the socket.
// Calling it more than once is a no-op.
func (p *Peer) Disconnect() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		if tcpConn, ok := p.conn.(*net.TCPConn); ok {
			tcpConn.CloseRead()
			tcpConn.CloseWrite()
		}
		err = p.conn.Close()
	})
	return err
}

// RemoteAddr returns the remote network address
func (p *Peer) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}
