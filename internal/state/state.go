// Package state holds the data every connection, command, and replication
// task operates on: the KV store, the stream store, the client table, the
// peer table, and server role metadata.
//
// Each collaborator carries its own lock; callers must never hold two of
// them at once — acquire, read or mutate, release, then move to the next
// collaborator.
package state

import (
	"sync"
	"time"

	"github.com/xenking/redis-server/internal/kv"
	"github.com/xenking/redis-server/internal/stream"
)

// Role is the server's replication role.
type Role int

const (
	RoleLeader Role = iota
	RoleFollower
)

func (r Role) String() string {
	if r == RoleFollower {
		return "slave"
	}
	return "master"
}

// Meta is the global server metadata set once at startup.
type Meta struct {
	MasterReplID string
	LeaderAddr   string // meaningful only when Role == RoleFollower
	StartedAt    time.Time
	PID          int

	offset int64 // master_repl_offset; accessed only via Offset/AddOffset
	mu     sync.Mutex
}

// Offset returns the current master_repl_offset.
func (m *Meta) Offset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// AddOffset advances master_repl_offset by n bytes and returns the new value.
func (m *Meta) AddOffset(n int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset += n
	return m.offset
}

// HandshakeStage is how far a connection has progressed through the exact
// replica identification sequence PING → REPLCONF listening-port <port> →
// REPLCONF capa psync2. Only a client at HandshakeCapa may be promoted to
// a Peer by PSYNC; any other inbound command resets the progress, leaving
// the connection a normal client.
type HandshakeStage int

const (
	HandshakeNone HandshakeStage = iota
	HandshakePing
	HandshakePort
	HandshakeCapa
)

// Queued is one command buffered by a client between MULTI and EXEC/DISCARD.
// Raw is the verbatim inbound bytes, kept
// so a replicated EXEC can broadcast the exact wire form it executed.
type Queued struct {
	Args []string
	Raw  []byte
}

// Client is the shared-state record for one accepted connection that has
// not (or will never) become a Peer.
type Client struct {
	Addr string

	mu        sync.Mutex
	inMulti   bool
	queued    []Queued
	handshake HandshakeStage
	closed    bool

	Outbound chan []byte
}

// NewClient returns a Client ready to be registered in a Clients table.
func NewClient(addr string) *Client {
	return &Client{Addr: addr, Outbound: make(chan []byte, 64)}
}

// InMulti reports whether a MULTI is currently open for this client.
func (c *Client) InMulti() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inMulti
}

// BeginMulti opens a transaction. Returns false if one is already open.
func (c *Client) BeginMulti() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inMulti {
		return false
	}
	c.inMulti = true
	c.queued = nil
	return true
}

// Handshake returns the client's current replica-identification stage.
func (c *Client) Handshake() HandshakeStage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshake
}

// SetHandshake records the client's replica-identification stage.
func (c *Client) SetHandshake(s HandshakeStage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handshake = s
}

// Enqueue appends a command to the open transaction buffer.
func (c *Client) Enqueue(q Queued) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queued = append(c.queued, q)
}

// DrainMulti closes the transaction and returns its buffered commands in
// FIFO order, the order EXEC must execute them in.
func (c *Client) DrainMulti() []Queued {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queued
	c.queued = nil
	c.inMulti = false
	return q
}

// DiscardMulti closes the transaction, dropping any buffered commands.
func (c *Client) DiscardMulti() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queued = nil
	c.inMulti = false
}

// Send enqueues bytes for delivery to this client's socket, unless the
// client has already been torn down.
func (c *Client) Send(b []byte) bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}
	select {
	case c.Outbound <- b:
		return true
	default:
		return false
	}
}

// Close marks the client torn down and closes its outbound channel.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Outbound)
}

const recentWritesCap = 10

// Peer is the leader-side record of one follower connection, created on
// successful PSYNC handshake.
type Peer struct {
	Addr     string
	Outbound chan []byte

	bytesSent  int64
	bytesAcked int64

	mu           sync.Mutex
	recentWrites []string
	closed       bool
}

// NewPeer returns a Peer with a bounded outbound queue. When a broadcast
// finds the queue full, State.Broadcast closes the queue and removes the
// peer from the peer table; the socket itself is not closed there.
func NewPeer(addr string, queueCap int) *Peer {
	return &Peer{Addr: addr, Outbound: make(chan []byte, queueCap)}
}

// BytesSent returns the total bytes broadcast to this peer.
func (p *Peer) BytesSent() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesSent
}

// BytesAcked returns the last offset this peer reported via REPLCONF ACK.
func (p *Peer) BytesAcked() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesAcked
}

// SetBytesAcked overwrites the acked offset with the follower-reported
// value. The follower's number is authoritative, never added to.
func (p *Peer) SetBytesAcked(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bytesAcked = n
}

// RecentWrites returns a copy of the last (up to 10) non-GETACK messages
// broadcast to this peer.
func (p *Peer) RecentWrites() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.recentWrites))
	copy(out, p.recentWrites)
	return out
}

// RecordSend tracks one broadcast message sent to this peer: it always
// advances bytesSent, and — unless the message is a GETACK request — is
// also appended to the bounded recent-writes queue.
func (p *Peer) RecordSend(msg []byte, isGetAck bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bytesSent += int64(len(msg))
	if isGetAck {
		return
	}
	p.recentWrites = append(p.recentWrites, string(msg))
	if len(p.recentWrites) > recentWritesCap {
		p.recentWrites = p.recentWrites[len(p.recentWrites)-recentWritesCap:]
	}
}

// Send enqueues bytes for delivery to this peer's socket.
func (p *Peer) Send(b []byte) bool {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return false
	}
	select {
	case p.Outbound <- b:
		return true
	default:
		return false
	}
}

// Close marks the peer torn down and closes its outbound channel.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.Outbound)
}

// State is the process-wide shared collaborator every connection task and
// the replication engine hold by reference.
type State struct {
	KV      *kv.Store
	Streams *stream.Store
	Role    Role
	Meta    *Meta

	clientsMu sync.RWMutex
	clients   map[string]*Client

	peersMu sync.RWMutex
	peers   map[string]*Peer
}

// New builds an empty State for the given role.
func New(role Role, meta *Meta) *State {
	return &State{
		KV:      kv.New(),
		Streams: stream.New(),
		Role:    role,
		Meta:    meta,
		clients: make(map[string]*Client),
		peers:   make(map[string]*Peer),
	}
}

// AddClient registers a new client record.
func (s *State) AddClient(c *Client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c.Addr] = c
}

// RemoveClient drops a client record on disconnect.
func (s *State) RemoveClient(addr string) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, addr)
}

// AddPeer promotes a connection to Peer, replacing any Client record at the
// same address.
func (s *State) AddPeer(p *Peer) {
	s.clientsMu.Lock()
	delete(s.clients, p.Addr)
	s.clientsMu.Unlock()

	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	s.peers[p.Addr] = p
}

// RemovePeer drops a peer record on disconnect.
func (s *State) RemovePeer(addr string) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	delete(s.peers, addr)
}

// Peers returns a snapshot slice of all currently connected peers.
func (s *State) Peers() []*Peer {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// PeerCount returns the number of connected peers.
func (s *State) PeerCount() int {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	return len(s.peers)
}

// Broadcast pushes msg to every peer's outbound queue, tracking bytesSent
// and the recent-writes ring. isGetAck controls both the
// recent-writes exclusion and (by convention) is true only for the
// REPLCONF GETACK frame the dispatcher issues for WAIT.
func (s *State) Broadcast(msg []byte, isGetAck bool) {
	s.Meta.AddOffset(int64(len(msg)))
	for _, p := range s.Peers() {
		p.RecordSend(msg, isGetAck)
		if !p.Send(msg) {
			p.Close()
			s.RemovePeer(p.Addr)
		}
	}
}
