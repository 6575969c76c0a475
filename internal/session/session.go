// Package session implements the per-connection read/dispatch/write loop:
// a single task owns the accepted socket end to end,
// decoding pipelined RESP commands, running them through the dispatcher,
// and promoting the connection from a Client to a Peer the moment a PSYNC
// handshake completes.
package session

import (
	"bufio"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/xenking/redis-server/internal/command"
	"github.com/xenking/redis-server/internal/config"
	"github.com/xenking/redis-server/internal/resp"
	"github.com/xenking/redis-server/internal/state"
)

const peerQueueCap = 256

// Session owns one accepted connection for its entire lifetime.
type Session struct {
	conn       net.Conn
	state      *state.State
	cfg        config.Config
	dispatcher *command.Dispatcher
	log        *logrus.Logger

	addr       string
	client     *state.Client
	peer       *state.Peer
	writerDone chan struct{}
}

// New returns a Session ready to Serve conn.
func New(conn net.Conn, st *state.State, cfg config.Config, d *command.Dispatcher, log *logrus.Logger) *Session {
	return &Session{conn: conn, state: st, cfg: cfg, dispatcher: d, log: log}
}

// Serve runs until the peer disconnects or a protocol error forces the
// connection closed. It registers and tears down the connection's shared
// state record itself; the caller just needs to run this in its own task.
func (s *Session) Serve() {
	defer s.conn.Close()

	s.addr = s.conn.RemoteAddr().String()
	s.client = state.NewClient(s.addr)
	s.state.AddClient(s.client)

	s.writerDone = make(chan struct{})
	go s.drain(s.client.Outbound, s.writerDone)

	s.readLoop()
	s.teardown()
	<-s.writerDone
}

// drain is the connection's sole writer at any given moment: it owns
// conn.Write until ch is closed, at which point control has already
// passed to whatever replaced it (see promote).
func (s *Session) drain(ch <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for b := range ch {
		if _, err := s.conn.Write(b); err != nil {
			return
		}
	}
}

func (s *Session) readLoop() {
	r := bufio.NewReader(s.conn)
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}

		for {
			v, consumed, derr := resp.DecodeOne(buf)
			if derr == resp.ErrIncomplete {
				break
			}
			if derr != nil {
				s.log.WithField("addr", s.addr).WithError(derr).Warn("malformed command, closing connection")
				return
			}
			raw := append([]byte(nil), buf[:consumed]...)
			buf = buf[consumed:]

			args, ok := v.StringArgs()
			if !ok || len(args) == 0 {
				continue
			}
			if !s.handle(args, raw) {
				return
			}
		}

		if err != nil {
			if len(buf) > 0 {
				s.log.WithField("addr", s.addr).Warn("connection closed mid-command")
			}
			return
		}
	}
}

func (s *Session) handle(args []string, raw []byte) bool {
	ctx := &command.Context{State: s.state, Config: s.cfg, Client: s.client, Peer: s.peer}
	out := s.dispatcher.Dispatch(ctx, args, raw)

	switch {
	case out.Promote:
		return s.promote(out.Raw)
	case out.Suppress:
		return true
	default:
		encoded := resp.Encode(out.Reply)
		if s.peer != nil {
			return s.peer.Send(encoded)
		}
		return s.client.Send(encoded)
	}
}

// promote hands the connection from its Client record to a new Peer
// record, waiting for the old drain goroutine to fully flush and exit
// before the new one starts — this connection never has two writers on
// its socket at once.
func (s *Session) promote(fullResync []byte) bool {
	s.client.Close()
	<-s.writerDone

	peer := state.NewPeer(s.addr, peerQueueCap)
	s.writerDone = make(chan struct{})
	go s.drain(peer.Outbound, s.writerDone)

	s.state.AddPeer(peer)
	s.peer = peer
	s.client = nil

	s.log.WithField("addr", s.addr).Info("promoted connection to replication peer")
	return peer.Send(fullResync)
}

func (s *Session) teardown() {
	if s.peer != nil {
		s.peer.Close()
		s.state.RemovePeer(s.addr)
		return
	}
	s.client.Close()
	s.state.RemoveClient(s.addr)
}
