package repl

import (
	"bytes"
	"strconv"
	"time"

	"github.com/xenking/redis-server/internal/resp"
	"github.com/xenking/redis-server/internal/state"
)

// GetAckFrame is the exact wire bytes for "REPLCONF GETACK *", broadcast by
// WAIT to prompt followers to report their applied offset.
var GetAckFrame = resp.EncodeCommand("REPLCONF", "GETACK", "*")

// IsGetAck reports whether msg is (or contains) a GETACK request, matched
// case-insensitively.
func IsGetAck(msg []byte) bool {
	return bytes.Contains(bytes.ToUpper(msg), []byte("GETACK"))
}

// Broadcast sends msg to every connected peer. For a replicated write, msg
// is the verbatim on-wire bytes received from the client, never a
// re-serialization; Wait also uses it to send GetAckFrame.
func Broadcast(s *state.State, msg []byte) {
	s.Broadcast(msg, IsGetAck(msg))
}

// Wait implements the WAIT command's algorithm:
//
//  1. numReplicas == 0 returns the current peer count immediately.
//  2. Otherwise, broadcast REPLCONF GETACK *.
//  3. Sleep for timeoutMs.
//  4. If no peer has any recorded write yet, return the peer count;
//     otherwise return the count of peers whose acked offset equals
//     bytesSent minus the GETACK frame's length.
func Wait(s *state.State, numReplicas int, timeoutMs int) int {
	if numReplicas == 0 {
		return s.PeerCount()
	}

	Broadcast(s, GetAckFrame)
	time.Sleep(time.Duration(timeoutMs) * time.Millisecond)

	peers := s.Peers()
	anyWrite := false
	for _, p := range peers {
		if len(p.RecentWrites()) > 0 {
			anyWrite = true
			break
		}
	}
	if !anyWrite {
		return len(peers)
	}

	getAckLen := int64(len(GetAckFrame))
	acked := 0
	for _, p := range peers {
		if p.BytesAcked() == p.BytesSent()-getAckLen {
			acked++
		}
	}
	return acked
}

// FullResyncHeader renders the "+FULLRESYNC <replid> 0\r\n" line a leader
// sends before streaming the RDB payload.
func FullResyncHeader(replID string) []byte {
	return resp.Encode(resp.Simple("FULLRESYNC " + replID + " " + strconv.Itoa(0)))
}

// BulkFramedRDB renders the "$<len>\r\n<bytes>" framing (no trailing CRLF)
// used to transfer the RDB snapshot during PSYNC.
func BulkFramedRDB(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+16)
	out = append(out, '$')
	out = append(out, []byte(strconv.Itoa(len(payload)))...)
	out = append(out, '\r', '\n')
	out = append(out, payload...)
	return out
}
