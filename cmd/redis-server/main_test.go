package main

import (
	"bufio"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/xenking/redis-server/internal/command"
	"github.com/xenking/redis-server/internal/config"
	"github.com/xenking/redis-server/internal/repl"
	"github.com/xenking/redis-server/internal/server"
	"github.com/xenking/redis-server/internal/state"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// TestEndToEndSetGetAndSnapshot wires the same collaborators main() does
// (minus CLI parsing) and drives the server over a real TCP socket,
// exercising the RDB load/save glue in rdbio.go end to end.
func TestEndToEndSetGetAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{BindAddress: "127.0.0.1", ListenPort: 0, Dir: dir, DBFilename: "dump.rdb"}

	log := discardLogger()
	meta := &state.Meta{MasterReplID: repl.GenerateReplID(), StartedAt: time.Now(), PID: os.Getpid()}
	st := state.New(state.RoleLeader, meta)

	require.NoError(t, loadSnapshot(cfg, st, log))
	command.SetSaveHook(func() error { return saveSnapshot(cfg, st) })
	command.SetRDBSnapshotHook(func() []byte { return snapshotBytes(st) })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	cfg.ListenPort = port

	srv := server.New(cfg, st, command.New(), log)
	stop := make(chan struct{})
	defer close(stop)
	go srv.ListenAndServe(stop)

	var conn net.Conn
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)

	_, err = conn.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"))
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", line)

	_, err = conn.Write([]byte("*2\r\n$3\r\nGET\r\n$1\r\nk\r\n"))
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "$1\r\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "v\r\n", line)

	_, err = conn.Write([]byte("*1\r\n$4\r\nSAVE\r\n"))
	require.NoError(t, err)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", line)

	_, err = os.Stat(filepath.Join(dir, "dump.rdb"))
	require.NoError(t, err, "SAVE should have written the snapshot file")
}
