package repl

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xenking/redis-server/internal/resp"
)

const (
	backoffStart = time.Second
	backoffCap   = 64 * time.Second
)

// ErrHandshakeFailed signals that the leader didn't respond as expected to
// one of the four handshake steps.
var ErrHandshakeFailed = errors.New("repl: replica handshake failed")

// ApplyFunc applies one decoded command's arguments to local shared state.
// The follower calls it for every command from the leader except
// REPLCONF GETACK, which it answers itself.
type ApplyFunc func(args []string) error

// Follower owns the connection to the leader for the lifetime of a
// follower server process.
type Follower struct {
	LeaderAddr string
	ListenPort int
	Apply      ApplyFunc
	Log        *logrus.Logger
}

// Run connects to the leader, performs the handshake, and then applies
// replicated commands until stop is closed. Every failure leads to a
// reconnect after an exponential backoff (1s, doubling, capped at 64s); it
// keeps retrying at the cap and returns only when stop is closed.
func (f *Follower) Run(stop <-chan struct{}) {
	delay := backoffStart
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := f.connectAndServe(stop); err != nil {
			f.Log.WithError(err).WithField("leader", f.LeaderAddr).Warn("replication connection lost")
		}

		select {
		case <-stop:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

func (f *Follower) connectAndServe(stop <-chan struct{}) error {
	conn, err := net.DialTimeout("tcp", f.LeaderAddr, 5*time.Second)
	if err != nil {
		return errors.Wrap(err, "dial leader")
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	if err := f.handshake(conn, r); err != nil {
		return err
	}
	f.Log.WithField("leader", f.LeaderAddr).Info("replica handshake complete")

	return f.steadyState(conn, r, stop)
}

func (f *Follower) handshake(conn net.Conn, r *bufio.Reader) error {
	if err := f.roundTrip(conn, r, "+PONG", resp.EncodeCommand("PING")); err != nil {
		return err
	}
	if err := f.roundTrip(conn, r, "+OK", resp.EncodeCommand("REPLCONF", "listening-port", strconv.Itoa(f.ListenPort))); err != nil {
		return err
	}
	if err := f.roundTrip(conn, r, "+OK", resp.EncodeCommand("REPLCONF", "capa", "psync2")); err != nil {
		return err
	}

	if _, err := conn.Write(resp.EncodeCommand("PSYNC", "?", "-1")); err != nil {
		return errors.Wrap(err, "send PSYNC")
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return errors.Wrap(err, "read FULLRESYNC")
	}
	if !strings.HasPrefix(line, "+FULLRESYNC") {
		return errors.Wrapf(ErrHandshakeFailed, "unexpected PSYNC reply %q", line)
	}

	lengthLine, err := r.ReadString('\n')
	if err != nil {
		return errors.Wrap(err, "read RDB length")
	}
	lengthLine = strings.TrimSuffix(strings.TrimSuffix(lengthLine, "\n"), "\r")
	if len(lengthLine) == 0 || lengthLine[0] != '$' {
		return errors.Wrapf(ErrHandshakeFailed, "unexpected RDB length line %q", lengthLine)
	}
	n, err := strconv.Atoi(lengthLine[1:])
	if err != nil {
		return errors.Wrap(err, "parse RDB length")
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return errors.Wrap(err, "read RDB payload")
	}
	if len(payload) < 5 || string(payload[:5]) != "REDIS" {
		return errors.Wrap(ErrHandshakeFailed, "RDB payload missing magic")
	}
	return nil
}

func (f *Follower) roundTrip(conn net.Conn, r *bufio.Reader, wantPrefix string, req []byte) error {
	if _, err := conn.Write(req); err != nil {
		return errors.Wrap(err, "write handshake step")
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return errors.Wrap(err, "read handshake reply")
	}
	if !strings.HasPrefix(line, wantPrefix) {
		return errors.Wrapf(ErrHandshakeFailed, "got %q, want prefix %q", line, wantPrefix)
	}
	return nil
}

// steadyState applies replicated write commands and answers GETACK with
// the bytes-received counter as it stood before the GETACK frame itself.
func (f *Follower) steadyState(conn net.Conn, r *bufio.Reader, stop <-chan struct{}) error {
	var total int64
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}

		// Drain every complete command already buffered before acting on
		// the read error: a final read may deliver bytes together with
		// EOF, and those writes must still be applied and ACKed.
		for {
			v, consumed, derr := resp.DecodeOne(buf)
			if derr == resp.ErrIncomplete {
				break
			}
			if derr != nil {
				return errors.Wrap(derr, "decode replicated command")
			}
			args, ok := v.StringArgs()
			buf = buf[consumed:]
			if !ok || len(args) == 0 {
				continue
			}

			if isGetAckCmd(args) {
				ack := resp.EncodeCommand("REPLCONF", "ACK", strconv.FormatInt(total, 10))
				if _, werr := conn.Write(ack); werr != nil {
					return errors.Wrap(werr, "write ACK")
				}
				continue
			}

			if aerr := f.Apply(args); aerr != nil {
				f.Log.WithError(aerr).WithField("cmd", args[0]).Warn("failed to apply replicated command")
			}
			total += int64(consumed)
		}

		if err != nil {
			return errors.Wrap(err, "read from leader")
		}
	}
}

func isGetAckCmd(args []string) bool {
	return len(args) >= 2 &&
		strings.EqualFold(args[0], "REPLCONF") &&
		strings.EqualFold(args[1], "GETACK")
}
