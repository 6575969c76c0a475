// Package repl implements the replication engine: the leader's per-peer
// broadcast/WAIT accounting and the follower's handshake,
// backoff, and command-application loop.
package repl

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateReplID produces a random 40-character alphanumeric replication id
//, built from two UUIDs' hex digits the way the
// rest of this codebase leans on google/uuid for identifier generation.
func GenerateReplID() string {
	a := strings.ReplaceAll(uuid.New().String(), "-", "")
	b := strings.ReplaceAll(uuid.New().String(), "-", "")
	id := a + b
	return id[:40]
}
