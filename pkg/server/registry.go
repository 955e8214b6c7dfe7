package server

import (
	"sync"
	"time"

	"github.com/aeolun/chatapp/pkg/protocol"
)

// Registry is the ordered set of registered peers.
//
// mu serializes every mutation with every broadcast, so a broadcast never
// iterates a slice that is being modified and a removed peer never receives
// the USER_LEFT about itself. Methods suffixed with Locked expect mu held.
type Registry struct {
	mu      sync.Mutex
	peers   []*Peer // insertion order = connection order
	closed  bool
	codec   protocol.Codec
	metrics *Metrics
}

// NewRegistry creates an empty registry that encodes broadcasts with codec
func NewRegistry(codec protocol.Codec, metrics *Metrics) *Registry {
	return &Registry{
		codec:   codec,
		metrics: metrics,
	}
}

// Len returns the number of registered peers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Usernames returns the registered usernames in connection order
func (r *Registry) Usernames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usernamesLocked()
}

// Contains reports whether username is registered
func (r *Registry) Contains(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.containsLocked(username)
}

// Broadcast delivers env to every registered peer in registry order
func (r *Registry) Broadcast(env *protocol.Envelope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(env)
}

// Remove deregisters p and, if it was still registered, broadcasts leave to the
// remaining peers under the same lock. It reports whether p was removed.
func (r *Registry) Remove(p *Peer, leave *protocol.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, existing := range r.peers {
		if existing == p {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	r.peers = append(r.peers[:idx], r.peers[idx+1:]...)
	if r.metrics != nil {
		r.metrics.RecordActivePeers(len(r.peers))
	}

	if leave != nil {
		r.broadcastLocked(leave)
	}
	return true
}

// CloseAll disconnects every peer, empties the registry and refuses further admissions
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	for _, p := range r.peers {
		p.Disconnect()
	}
	r.peers = nil

	if r.metrics != nil {
		r.metrics.RecordActivePeers(0)
	}
}

func (r *Registry) containsLocked(username string) bool {
	for _, p := range r.peers {
		if p.Username == username {
			return true
		}
	}
	return false
}

func (r *Registry) usernamesLocked() []string {
	names := make([]string, len(r.peers))
	for i, p := range r.peers {
		names[i] = p.Username
	}
	return names
}

func (r *Registry) addLocked(p *Peer) {
	r.peers = append(r.peers, p)
	if r.metrics != nil {
		r.metrics.RecordActivePeers(len(r.peers))
	}
}

// broadcastLocked encodes env once and writes it to each peer sequentially.
// A peer whose write fails is disconnected; its own read loop then deregisters
// it and announces the departure.
func (r *Registry) broadcastLocked(env *protocol.Envelope) int {
	if len(r.peers) == 0 {
		return 0
	}

	data, err := protocol.EncodeEnvelope(r.codec, env)
	if err != nil {
		errorLog.Printf("Broadcast encode failed (Type=%s): %v", env.Type, err)
		return 0
	}

	start := time.Now()
	delivered := 0
	for _, p := range r.peers {
		if err := p.deliver(data); err != nil {
			debugLog.Printf("Peer %s (%s): broadcast failed (Type=%s): %v", p.ID, p.Username, env.Type, err)
			if r.metrics != nil {
				r.metrics.RecordPeerDropped()
			}
			p.Disconnect()
			continue
		}
		delivered++
	}

	if r.metrics != nil {
		r.metrics.RecordBroadcast(env.Type, delivered, time.Since(start))
	}
	return delivered
}
