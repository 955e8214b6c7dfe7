package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/chatapp/pkg/protocol"
)

func TestServerChatScenario(t *testing.T) {
	for _, mode := range []string{BroadcastSequential, BroadcastQueued} {
		t.Run(mode, func(t *testing.T) {
			config := DefaultConfig()
			config.BroadcastMode = mode
			srv, addr := startTestServer(t, config)

			alice := dialTestClient(t, addr, nil)
			users, welcome := alice.join(t, "alice")
			assert.Equal(t, []string{"alice"}, users)
			assert.Equal(t, "Bienvenue sur le server, alice !", welcome)

			bob := dialTestClient(t, addr, nil)
			users, welcome = bob.join(t, "bob")
			assert.Equal(t, []string{"alice", "bob"}, users)
			assert.Equal(t, "Bienvenue sur le server, bob !", welcome)

			alice.expect(t, protocol.NewUserJoined("bob"))

			bob.say(t, "hi")
			alice.expect(t, protocol.NewChatMessage("bob", "hi"))
			bob.expect(t, protocol.NewChatMessage("bob", "hi"))

			bob.conn.Close()
			alice.expect(t, protocol.NewUserLeft("bob"))
			waitForPeers(t, srv, 1)

			// Exactly one leave: the next envelope is the chat that follows it
			alice.say(t, "still here")
			alice.expect(t, protocol.NewChatMessage("alice", "still here"))
			assert.Equal(t, []string{"alice"}, srv.Usernames())
		})
	}
}

func TestServerNewcomerNeverSeesOwnJoin(t *testing.T) {
	_, addr := startTestServer(t, DefaultConfig())

	alice := dialTestClient(t, addr, nil)
	alice.join(t, "alice")

	alice.say(t, "first")
	alice.expect(t, protocol.NewChatMessage("alice", "first"))
	alice.expectSilence(t, 50*time.Millisecond)
}

func TestServerRejectsDuplicateUsername(t *testing.T) {
	srv, addr := startTestServer(t, DefaultConfig())

	alice := dialTestClient(t, addr, nil)
	alice.join(t, "alice")

	impostor := dialTestClient(t, addr, nil)
	assert.False(t, impostor.offer(t, "alice"))
	assert.Equal(t, []string{"alice"}, srv.Usernames())
	alice.expectSilence(t, 50*time.Millisecond)

	// Retry on the same socket
	users, welcome := impostor.join(t, "carol")
	assert.Equal(t, []string{"alice", "carol"}, users)
	assert.Equal(t, "Bienvenue sur le server, carol !", welcome)
	alice.expect(t, protocol.NewUserJoined("carol"))

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.handshakesRejected))
	assert.Equal(t, 2.0, testutil.ToFloat64(srv.metrics.peersJoined))
}

func TestServerRejectsEmptyUsername(t *testing.T) {
	srv, addr := startTestServer(t, DefaultConfig())

	c := dialTestClient(t, addr, nil)
	assert.False(t, c.offer(t, ""))
	assert.Equal(t, 0, srv.peers.Len())
}

func TestServerHandshakeAbandoned(t *testing.T) {
	srv, addr := startTestServer(t, DefaultConfig())

	alice := dialTestClient(t, addr, nil)
	alice.join(t, "alice")

	// A candidate that never completes a handshake causes no broadcast
	c := dialTestClient(t, addr, nil)
	c.conn.Write([]byte{0x05, 'b'})
	c.conn.Close()

	alice.expectSilence(t, 100*time.Millisecond)
	assert.Equal(t, []string{"alice"}, srv.Usernames())
}

func TestServerConcurrentSameUsername(t *testing.T) {
	srv, addr := startTestServer(t, DefaultConfig())

	const n = 8
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		c := dialTestClient(t, addr, nil)
		go func() {
			if err := protocol.WriteString(c.conn, "dup"); err != nil {
				results <- false
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(testTimeout))
			ok, err := protocol.ReadBool(c.r)
			results <- err == nil && ok
		}()
	}

	accepted := 0
	for i := 0; i < n; i++ {
		if <-results {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, []string{"dup"}, srv.Usernames())
}

func TestServerNonASCII(t *testing.T) {
	_, addr := startTestServer(t, DefaultConfig())

	c := dialTestClient(t, addr, nil)
	users, welcome := c.join(t, "Zoë")
	assert.Equal(t, []string{"Zoë"}, users)
	assert.Equal(t, "Bienvenue sur le server, Zoë !", welcome)

	c.say(t, "héllo 🌍")
	c.expect(t, protocol.NewChatMessage("Zoë", "héllo 🌍"))
}

func TestServerLongMessage(t *testing.T) {
	_, addr := startTestServer(t, DefaultConfig())

	c := dialTestClient(t, addr, nil)
	c.join(t, "alice")

	text := strings.Repeat("x", 300)
	c.say(t, text)
	c.expect(t, protocol.NewChatMessage("alice", text))
}

func TestServerCustomWelcome(t *testing.T) {
	config := DefaultConfig()
	config.WelcomeFormat = "Welcome, %s."
	_, addr := startTestServer(t, config)

	c := dialTestClient(t, addr, nil)
	_, welcome := c.join(t, "alice")
	assert.Equal(t, "Welcome, alice.", welcome)
}

func TestServerFramedCodec(t *testing.T) {
	config := DefaultConfig()
	config.Codec = protocol.CodecFramed
	_, addr := startTestServer(t, config)

	alice := dialTestClient(t, addr, protocol.FramedCodec{})
	alice.join(t, "alice")
	bob := dialTestClient(t, addr, protocol.FramedCodec{})
	bob.join(t, "bob")

	alice.expect(t, protocol.NewUserJoined("bob"))
	alice.say(t, "framed")
	bob.expect(t, protocol.NewChatMessage("alice", "framed"))
}

func TestServerLifecycle(t *testing.T) {
	silenceLogs(t)

	srv, err := NewServer(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, StateCreated, srv.State())
	assert.Nil(t, srv.Addr())

	// Stop before Start is a no-op
	require.NoError(t, srv.Stop())
	assert.Equal(t, StateCreated, srv.State())

	assert.ErrorIs(t, srv.StartAccepting(), ErrNotStarted)

	require.NoError(t, srv.Start(0))
	assert.Equal(t, StateStarted, srv.State())
	assert.ErrorIs(t, srv.Start(0), ErrAlreadyStarted)

	require.NoError(t, srv.StartAccepting())
	assert.Equal(t, StateAccepting, srv.State())
	assert.ErrorIs(t, srv.StartAccepting(), ErrNotStarted)

	require.NoError(t, srv.Stop())
	assert.Equal(t, StateStopped, srv.State())
	require.NoError(t, srv.Stop())

	assert.ErrorIs(t, srv.Start(0), ErrAlreadyStarted)
}

func TestServerStopWithoutAccepting(t *testing.T) {
	silenceLogs(t)

	srv, err := NewServer(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, srv.Start(0))
	require.NoError(t, srv.Stop())
	assert.Equal(t, StateStopped, srv.State())
}

func TestServerStopDisconnectsPeers(t *testing.T) {
	srv, addr := startTestServer(t, DefaultConfig())

	alice := dialTestClient(t, addr, nil)
	alice.join(t, "alice")
	pending := dialTestClient(t, addr, nil)
	waitForPeers(t, srv, 1)

	require.NoError(t, srv.Stop())

	alice.conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, err := alice.r.ReadByte()
	assert.Error(t, err)

	pending.conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, err = pending.r.ReadByte()
	assert.Error(t, err)

	assert.Equal(t, 0, srv.peers.Len())
}

func TestServerStopWithStalledPeer(t *testing.T) {
	srv, addr := startTestServer(t, DefaultConfig())

	// stalled never reads past its handshake
	stalled := dialTestClient(t, addr, nil)
	stalled.join(t, "stalled")
	talker := dialTestClient(t, addr, nil)
	talker.join(t, "talker")

	var received atomic.Int64
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, err := talker.r.Read(buf)
			received.Add(int64(n))
			if err != nil {
				return
			}
		}
	}()

	big := strings.Repeat("x", 60*1024)
	go func() {
		for i := 0; i < 200; i++ {
			if err := protocol.WriteString(talker.conn, big); err != nil {
				return
			}
		}
	}()

	// Wait until the talker stops receiving echoes: the broadcast is stuck on stalled
	deadline := time.Now().Add(testTimeout)
	last := int64(-1)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		cur := received.Load()
		if cur == last {
			break
		}
		last = cur
	}

	stopped := make(chan error, 1)
	go func() { stopped <- srv.Stop() }()

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Stop did not return while a broadcast was blocked on a stalled peer")
	}
	assert.Equal(t, StateStopped, srv.State())
	assert.Equal(t, 0, srv.peers.Len())
}

func TestServerConcurrentSendersShareOneOrder(t *testing.T) {
	const perSender = 50

	for _, mode := range []string{BroadcastSequential, BroadcastQueued} {
		t.Run(mode, func(t *testing.T) {
			config := DefaultConfig()
			config.BroadcastMode = mode
			_, addr := startTestServer(t, config)

			names := []string{"alice", "bob", "carol"}
			clients := make([]*testClient, len(names))
			for i, name := range names {
				clients[i] = dialTestClient(t, addr, nil)
				clients[i].join(t, name)
				for _, earlier := range clients[:i] {
					earlier.expect(t, protocol.NewUserJoined(name))
				}
			}

			var wg sync.WaitGroup
			errs := make(chan error, len(clients))
			for i, c := range clients {
				wg.Add(1)
				go func(name string, c *testClient) {
					defer wg.Done()
					for n := 0; n < perSender; n++ {
						if err := protocol.WriteString(c.conn, fmt.Sprintf("%s-%03d", name, n)); err != nil {
							errs <- err
							return
						}
					}
				}(names[i], c)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			var reference []string
			for i, c := range clients {
				seq := make([]string, 0, len(names)*perSender)
				next := make(map[string]int)
				for n := 0; n < len(names)*perSender; n++ {
					env := c.next(t)
					require.Equal(t, protocol.TypeChatMessage, env.Type)
					want := fmt.Sprintf("%s-%03d", env.Username, next[env.Username])
					require.Equal(t, want, env.Text(), "%s: messages from %s out of order", names[i], env.Username)
					next[env.Username]++
					seq = append(seq, env.Username+":"+env.Text())
				}
				for _, name := range names {
					assert.Equal(t, perSender, next[name], "%s: messages from %s", names[i], name)
				}
				c.expectSilence(t, 50*time.Millisecond)

				if reference == nil {
					reference = seq
					continue
				}
				assert.Equal(t, reference, seq, "%s saw a different interleaving than %s", names[i], names[0])
			}
		})
	}
}

func TestServerBindConflict(t *testing.T) {
	first, _ := startTestServer(t, DefaultConfig())
	port := first.Addr().(*net.TCPAddr).Port

	second, err := NewServer(DefaultConfig())
	require.NoError(t, err)
	assert.Error(t, second.Start(port))
	assert.Equal(t, StateCreated, second.State())
}

func TestNewServerValidation(t *testing.T) {
	config := DefaultConfig()
	config.BroadcastMode = "fanout"
	_, err := NewServer(config)
	assert.ErrorIs(t, err, ErrUnknownBroadcastMode)

	config = DefaultConfig()
	config.Codec = "protobuf"
	_, err = NewServer(config)
	assert.ErrorIs(t, err, protocol.ErrUnknownCodec)

	srv, err := NewServer(ServerConfig{})
	require.NoError(t, err)
	assert.Equal(t, BroadcastSequential, srv.config.BroadcastMode)
	assert.Equal(t, 10, srv.config.Backlog)
	assert.Equal(t, protocol.CodecLegacy, srv.codec.Name())
}

func TestServerTwoInstancesInOneProcess(t *testing.T) {
	_, addrA := startTestServer(t, DefaultConfig())
	_, addrB := startTestServer(t, DefaultConfig())

	a := dialTestClient(t, addrA, nil)
	a.join(t, "alice")
	b := dialTestClient(t, addrB, nil)
	users, _ := b.join(t, "alice")
	assert.Equal(t, []string{"alice"}, users)
}

func startAdminServer(t *testing.T) (*Server, string, string) {
	t.Helper()
	config := DefaultConfig()
	config.HTTPAddr = "127.0.0.1:0"
	srv, addr := startTestServer(t, config)
	return srv, addr, srv.HTTPAddr().String()
}

func TestServerHealthAndMetrics(t *testing.T) {
	_, addr, httpAddr := startAdminServer(t)

	alice := dialTestClient(t, addr, nil)
	alice.join(t, "alice")
	alice.say(t, "hello")
	alice.expect(t, protocol.NewChatMessage("alice", "hello"))

	resp, err := http.Get(fmt.Sprintf("http://%s/health", httpAddr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "accepting", health["state"])
	assert.Equal(t, 1.0, health["peers"])

	resp, err = http.Get(fmt.Sprintf("http://%s/metrics", httpAddr))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chatapp_peers_joined_total 1")
	assert.Contains(t, string(body), "chatapp_messages_received_total 1")
	assert.Contains(t, string(body), `chatapp_messages_sent_total{type="CHAT_MESSAGE"} 1`)
}

func TestServerWebSocketBridge(t *testing.T) {
	_, addr, httpAddr := startAdminServer(t)

	alice := dialTestClient(t, addr, nil)
	alice.join(t, "alice")

	ws, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws", httpAddr), nil)
	require.NoError(t, err)
	wsConn := NewWebSocketConn(ws)
	t.Cleanup(func() { wsConn.Close() })

	bob := newTestClient(wsConn, nil)
	users, _ := bob.join(t, "bob")
	assert.Equal(t, []string{"alice", "bob"}, users)
	alice.expect(t, protocol.NewUserJoined("bob"))

	bob.say(t, "over websocket")
	alice.expect(t, protocol.NewChatMessage("bob", "over websocket"))
	bob.expect(t, protocol.NewChatMessage("bob", "over websocket"))

	wsConn.Close()
	alice.expect(t, protocol.NewUserLeft("bob"))
}
