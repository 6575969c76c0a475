package command

import (
	"testing"
	"time"

	"github.com/xenking/redis-server/internal/config"
	"github.com/xenking/redis-server/internal/resp"
	"github.com/xenking/redis-server/internal/state"
)

func newTestContext() (*Dispatcher, *Context) {
	s := state.New(state.RoleLeader, &state.Meta{MasterReplID: "deadbeef", StartedAt: time.Now(), PID: 1})
	c := state.NewClient("127.0.0.1:1")
	s.AddClient(c)
	return New(), &Context{State: s, Config: config.Config{BindAddress: "127.0.0.1", ListenPort: 6379}, Client: c}
}

func TestPingPong(t *testing.T) {
	d, ctx := newTestContext()
	out := d.Dispatch(ctx, []string{"PING"}, nil)
	if out.Reply.Str != "PONG" {
		t.Fatalf("got %q, want PONG", out.Reply.Str)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	d, ctx := newTestContext()
	d.Dispatch(ctx, []string{"SET", "k", "v"}, []byte("raw"))
	out := d.Dispatch(ctx, []string{"GET", "k"}, nil)
	if out.Reply.Str != "v" {
		t.Fatalf("got %q, want v", out.Reply.Str)
	}
}

func TestGetMissingReturnsNullBulk(t *testing.T) {
	d, ctx := newTestContext()
	out := d.Dispatch(ctx, []string{"GET", "missing"}, nil)
	if !out.Reply.IsNull() {
		t.Fatal("expected null bulk reply")
	}
}

func TestIncrOnNonIntegerErrors(t *testing.T) {
	d, ctx := newTestContext()
	d.Dispatch(ctx, []string{"SET", "k", "nope"}, nil)
	out := d.Dispatch(ctx, []string{"INCR", "k"}, nil)
	if out.Reply.Type != resp.Error {
		t.Fatalf("got %v, want error", out.Reply)
	}
}

func TestWrongArity(t *testing.T) {
	d, ctx := newTestContext()
	out := d.Dispatch(ctx, []string{"GET"}, nil)
	if out.Reply.Type != resp.Error {
		t.Fatalf("got %v, want arity error", out.Reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	d, ctx := newTestContext()
	out := d.Dispatch(ctx, []string{"BOGUS"}, nil)
	if out.Reply.Str != errCommandNotSupported.Str {
		t.Fatalf("got %q, want %q", out.Reply.Str, errCommandNotSupported.Str)
	}
}

func TestMultiQueuesWriteCommands(t *testing.T) {
	d, ctx := newTestContext()
	d.Dispatch(ctx, []string{"MULTI"}, nil)
	out := d.Dispatch(ctx, []string{"SET", "k", "v"}, []byte("raw"))
	if out.Reply.Str != "QUEUED" {
		t.Fatalf("got %v, want QUEUED", out.Reply)
	}
	if _, ok := ctx.State.KV.Get("k"); ok {
		t.Fatal("SET should not apply until EXEC")
	}
	exec := d.Dispatch(ctx, []string{"EXEC"}, nil)
	if len(exec.Reply.Array) != 1 || exec.Reply.Array[0].Str != "OK" {
		t.Fatalf("got %v", exec.Reply)
	}
	if v, ok := ctx.State.KV.Get("k"); !ok || v != "v" {
		t.Fatal("SET should be applied after EXEC")
	}
}

func TestExecWithoutMultiErrors(t *testing.T) {
	d, ctx := newTestContext()
	out := d.Dispatch(ctx, []string{"EXEC"}, nil)
	if out.Reply.Str != errExecWithoutMulti.Str {
		t.Fatalf("got %q", out.Reply.Str)
	}
}

func TestDiscardWithoutMultiErrors(t *testing.T) {
	d, ctx := newTestContext()
	out := d.Dispatch(ctx, []string{"DISCARD"}, nil)
	if out.Reply.Str != errDiscardWithoutMulti.Str {
		t.Fatalf("got %q", out.Reply.Str)
	}
}

func TestDiscardDropsQueuedCommands(t *testing.T) {
	d, ctx := newTestContext()
	d.Dispatch(ctx, []string{"MULTI"}, nil)
	d.Dispatch(ctx, []string{"SET", "k", "v"}, []byte("raw"))
	d.Dispatch(ctx, []string{"DISCARD"}, nil)
	if ctx.Client.InMulti() {
		t.Fatal("expected transaction to be closed")
	}
	if _, ok := ctx.State.KV.Get("k"); ok {
		t.Fatal("discarded SET should never apply")
	}
}

func TestXaddAndXrange(t *testing.T) {
	d, ctx := newTestContext()
	out := d.Dispatch(ctx, []string{"XADD", "s", "*", "field", "value"}, []byte("raw"))
	if out.Reply.Type == resp.Error {
		t.Fatalf("XADD failed: %v", out.Reply)
	}
	rng := d.Dispatch(ctx, []string{"XRANGE", "s", "-", "+"}, nil)
	if len(rng.Reply.Array) != 1 {
		t.Fatalf("got %d entries, want 1", len(rng.Reply.Array))
	}
}

func TestTypeMismatchErrors(t *testing.T) {
	d, ctx := newTestContext()
	d.Dispatch(ctx, []string{"SET", "k", "v"}, nil)
	out := d.Dispatch(ctx, []string{"XADD", "k", "*", "f", "v"}, nil)
	if out.Reply.Type != resp.Error {
		t.Fatalf("expected type error, got %v", out.Reply)
	}

	d.Dispatch(ctx, []string{"XADD", "s", "1-1", "f", "v"}, nil)
	out = d.Dispatch(ctx, []string{"SET", "s", "v2"}, nil)
	if out.Reply.Type != resp.Error {
		t.Fatalf("expected type error for SET on a stream key, got %v", out.Reply)
	}
	if typ := d.Dispatch(ctx, []string{"TYPE", "s"}, nil); typ.Reply.Str != "stream" {
		t.Fatalf("got TYPE %q, want stream", typ.Reply.Str)
	}
}

func TestPsyncRequiresHandshakeSequence(t *testing.T) {
	d, ctx := newTestContext()

	out := d.Dispatch(ctx, []string{"PSYNC", "?", "-1"}, nil)
	if out.Promote || out.Reply.Type != resp.Error {
		t.Fatalf("bare PSYNC must not promote, got %+v", out)
	}

	d.Dispatch(ctx, []string{"PING"}, nil)
	d.Dispatch(ctx, []string{"REPLCONF", "listening-port", "6380"}, nil)
	d.Dispatch(ctx, []string{"REPLCONF", "capa", "psync2"}, nil)
	out = d.Dispatch(ctx, []string{"PSYNC", "?", "-1"}, nil)
	if !out.Promote {
		t.Fatalf("exact handshake sequence must promote, got %+v", out)
	}
}

func TestPsyncRejectedAfterHandshakeDeviation(t *testing.T) {
	d, ctx := newTestContext()
	d.Dispatch(ctx, []string{"PING"}, nil)
	d.Dispatch(ctx, []string{"REPLCONF", "listening-port", "6380"}, nil)
	d.Dispatch(ctx, []string{"ECHO", "x"}, nil)
	d.Dispatch(ctx, []string{"REPLCONF", "capa", "psync2"}, nil)

	out := d.Dispatch(ctx, []string{"PSYNC", "?", "-1"}, nil)
	if out.Promote {
		t.Fatal("a deviation mid-sequence must leave the connection a normal client")
	}
}

func TestPsyncRejectedOutOfOrder(t *testing.T) {
	d, ctx := newTestContext()
	d.Dispatch(ctx, []string{"PING"}, nil)
	d.Dispatch(ctx, []string{"REPLCONF", "capa", "psync2"}, nil)
	d.Dispatch(ctx, []string{"REPLCONF", "listening-port", "6380"}, nil)

	out := d.Dispatch(ctx, []string{"PSYNC", "?", "-1"}, nil)
	if out.Promote {
		t.Fatal("reordered handshake steps must not promote")
	}
}

func TestXreadReturnsEntriesAfterID(t *testing.T) {
	d, ctx := newTestContext()
	d.Dispatch(ctx, []string{"XADD", "s", "1-1", "f", "v"}, nil)
	d.Dispatch(ctx, []string{"XADD", "s", "2-1", "f", "v2"}, nil)

	out := d.Dispatch(ctx, []string{"XREAD", "STREAMS", "s", "1-1"}, nil)
	if len(out.Reply.Array) != 1 {
		t.Fatalf("got %d streams, want 1", len(out.Reply.Array))
	}
	st := out.Reply.Array[0]
	if st.Array[0].Str != "s" {
		t.Fatalf("got stream key %q, want s", st.Array[0].Str)
	}
	entries := st.Array[1].Array
	if len(entries) != 1 || entries[0].Array[0].Str != "2-1" {
		t.Fatalf("got entries %+v, want exactly 2-1", entries)
	}
}

func TestXreadNoNewEntriesReturnsNullBulk(t *testing.T) {
	d, ctx := newTestContext()
	d.Dispatch(ctx, []string{"XADD", "s", "1-1", "f", "v"}, nil)

	out := d.Dispatch(ctx, []string{"XREAD", "STREAMS", "s", "1-1"}, nil)
	if out.Reply.Type != resp.BulkString || !out.Reply.IsNull() {
		t.Fatalf("got %+v, want null bulk", out.Reply)
	}
}

func TestXreadBlockingUnblocksOnAppend(t *testing.T) {
	d, ctx := newTestContext()

	go func() {
		time.Sleep(20 * time.Millisecond)
		d.Dispatch(ctx, []string{"XADD", "s", "5-1", "f", "v"}, nil)
	}()

	out := d.Dispatch(ctx, []string{"XREAD", "BLOCK", "1000", "STREAMS", "s", "$"}, nil)
	if out.Reply.IsNull() {
		t.Fatal("expected entries, got null reply")
	}
	entries := out.Reply.Array[0].Array[1].Array
	if len(entries) != 1 || entries[0].Array[0].Str != "5-1" {
		t.Fatalf("got entries %+v, want exactly 5-1", entries)
	}
}

func TestXreadBlockingTimesOut(t *testing.T) {
	d, ctx := newTestContext()
	out := d.Dispatch(ctx, []string{"XREAD", "BLOCK", "30", "STREAMS", "s", "$"}, nil)
	if out.Reply.Type != resp.BulkString || !out.Reply.IsNull() {
		t.Fatalf("got %+v, want null bulk on timeout", out.Reply)
	}
}

func TestWaitZeroReplicas(t *testing.T) {
	d, ctx := newTestContext()
	out := d.Dispatch(ctx, []string{"WAIT", "0", "100"}, nil)
	if out.Reply.Int != 0 {
		t.Fatalf("got %d, want 0", out.Reply.Int)
	}
}
