package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aeolun/chatapp/pkg/protocol"
)

const testTimeout = 5 * time.Second

func silenceLogs(t *testing.T) {
	t.Helper()
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	log.SetOutput(io.Discard)
}

// startTestServer starts a real server on a random port and returns it with a dialable address
func startTestServer(t *testing.T, config ServerConfig) (*Server, string) {
	t.Helper()
	silenceLogs(t)

	srv, err := NewServer(config)
	require.NoError(t, err)
	require.NoError(t, srv.Start(0))
	require.NoError(t, srv.StartAccepting())
	t.Cleanup(func() { srv.Stop() })

	port := srv.Addr().(*net.TCPAddr).Port
	return srv, fmt.Sprintf("127.0.0.1:%d", port)
}

// testClient speaks the wire protocol by hand
type testClient struct {
	conn  net.Conn
	r     *bufio.Reader
	codec protocol.Codec
}

func dialTestClient(t *testing.T, addr string, codec protocol.Codec) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, testTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return newTestClient(conn, codec)
}

func newTestClient(conn net.Conn, codec protocol.Codec) *testClient {
	if codec == nil {
		codec = protocol.LegacyCodec{}
	}
	return &testClient{conn: conn, r: bufio.NewReader(conn), codec: codec}
}

// offer sends a username and returns the acceptance flag
func (c *testClient) offer(t *testing.T, username string) bool {
	t.Helper()
	require.NoError(t, protocol.WriteString(c.conn, username))
	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	defer c.conn.SetReadDeadline(time.Time{})
	ok, err := protocol.ReadBool(c.r)
	require.NoError(t, err)
	return ok
}

// join completes a successful handshake and returns the user list and welcome text
func (c *testClient) join(t *testing.T, username string) ([]string, string) {
	t.Helper()
	require.True(t, c.offer(t, username), "username %q rejected", username)

	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	defer c.conn.SetReadDeadline(time.Time{})
	users, err := protocol.ReadUserList(c.r)
	require.NoError(t, err)
	welcome, err := protocol.ReadString(c.r)
	require.NoError(t, err)
	return users, welcome
}

func (c *testClient) say(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, protocol.WriteString(c.conn, text))
}

func (c *testClient) next(t *testing.T) *protocol.Envelope {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	defer c.conn.SetReadDeadline(time.Time{})
	env, err := c.codec.ReadEnvelope(c.r)
	require.NoError(t, err)
	return env
}

func (c *testClient) expect(t *testing.T, want *protocol.Envelope) {
	t.Helper()
	require.Equal(t, want, c.next(t))
}

// expectSilence asserts nothing arrives within d
func (c *testClient) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(d))
	defer c.conn.SetReadDeadline(time.Time{})
	_, err := c.r.Peek(1)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected data or error: %v", err)
}

func waitForPeers(t *testing.T, srv *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.peers.Len() == n }, testTimeout, 5*time.Millisecond)
}

// recordConn is an in-memory net.Conn that records writes
type recordConn struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	failErr error
	block   chan struct{} // when non-nil, Write waits for it to close
	closed  bool
}

func (c *recordConn) Write(b []byte) (int, error) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.failErr != nil {
		return 0, c.failErr
	}
	return c.buf.Write(b)
}

func (c *recordConn) Read(b []byte) (int, error) { return 0, io.EOF }

func (c *recordConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *recordConn) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

func (c *recordConn) LocalAddr() net.Addr                { return &net.TCPAddr{} }
func (c *recordConn) RemoteAddr() net.Addr               { return &net.TCPAddr{} }
func (c *recordConn) SetDeadline(t time.Time) error      { return nil }
func (c *recordConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *recordConn) SetWriteDeadline(t time.Time) error { return nil }

// decodeAll reads every legacy envelope written to conn
func decodeAll(t *testing.T, conn *recordConn) []*protocol.Envelope {
	t.Helper()
	r := bytes.NewReader(conn.bytes())
	var out []*protocol.Envelope
	for r.Len() > 0 {
		env, err := protocol.LegacyCodec{}.ReadEnvelope(r)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}
