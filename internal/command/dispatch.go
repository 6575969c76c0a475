// Package command implements the command dispatcher: arity and
// type checking, command execution against shared state, and the decision
// of what gets replicated to peers.
package command

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/xenking/redis-server/internal/config"
	"github.com/xenking/redis-server/internal/repl"
	"github.com/xenking/redis-server/internal/resp"
	"github.com/xenking/redis-server/internal/state"
	"github.com/xenking/redis-server/internal/stream"
	"github.com/xenking/redis-server/internal/sysinfo"
)

// Context carries everything a command handler needs beyond its own
// arguments: shared state, static config, and the identity of the
// connection issuing the command (at most one of Client/Peer is set).
type Context struct {
	State  *state.State
	Config config.Config
	Client *state.Client // the issuing client, nil when replaying a replicated command or acting as a peer
	Peer   *state.Peer   // set once this connection has completed the PSYNC handshake
}

// Outcome is what Dispatch produces for one command. Exactly one of Reply
// or Raw is meaningful unless Suppress is set, in which case the session
// writes nothing back (set only for REPLCONF ACK on the leader side, which
// has no client-visible reply).
type Outcome struct {
	Reply     resp.Value
	Raw       []byte // pre-framed bytes, used only by PSYNC's FULLRESYNC+RDB reply
	Suppress  bool
	Promote   bool // session must promote this connection to a Peer after writing Raw
	Replicate bool // true if this execution should be broadcast to peers
}

type handler func(ctx *Context, args []string) Outcome

type entry struct {
	checkArity func(n int) bool // n = len(args), including the command name
	isWrite    bool
	queueable  bool // false for MULTI/EXEC/DISCARD themselves
	fn         handler
}

func exact(n int) func(int) bool { return func(got int) bool { return got == n } }
func oneOf(ns ...int) func(int) bool {
	return func(got int) bool {
		for _, n := range ns {
			if got == n {
				return true
			}
		}
		return false
	}
}
func atLeast(n int) func(int) bool { return func(got int) bool { return got >= n } }

// Dispatcher executes parsed command arrays against a Context.
type Dispatcher struct {
	table map[string]entry
}

// New builds a Dispatcher with the full command table.
func New() *Dispatcher {
	d := &Dispatcher{table: make(map[string]entry)}
	d.register("PING", oneOf(1, 2), false, true, cmdPing)
	d.register("ECHO", exact(2), false, true, cmdEcho)
	d.register("GET", exact(2), false, true, cmdGet)
	d.register("SET", oneOf(3, 5), true, true, cmdSet)
	d.register("INCR", exact(2), true, true, cmdIncr)
	d.register("TYPE", exact(2), false, true, cmdType)
	d.register("KEYS", exact(2), false, true, cmdKeys)
	d.register("CONFIG", exact(3), false, true, cmdConfigGet)
	d.register("INFO", oneOf(1, 2), false, true, cmdInfo)
	d.register("SAVE", exact(1), false, true, cmdSaveStub)
	d.register("MULTI", exact(1), false, false, cmdMulti)
	d.register("DISCARD", exact(1), false, false, cmdDiscard)
	d.register("REPLCONF", atLeast(2), false, true, cmdReplconf)
	d.register("PSYNC", exact(3), false, true, cmdPsync)
	d.register("WAIT", exact(3), false, true, cmdWait)
	d.register("XADD", func(n int) bool { return n >= 5 && n%2 == 1 }, true, true, cmdXadd)
	d.register("XRANGE", exact(4), false, true, cmdXrange)
	d.register("XREAD", atLeast(4), false, true, cmdXread)
	// EXEC has variable internal fan-out; arity is fixed at the top level.
	d.register("EXEC", exact(1), false, false, nil) // handled specially below, see Dispatch
	return d
}

func (d *Dispatcher) register(name string, arity func(int) bool, isWrite, queueable bool, fn handler) {
	d.table[name] = entry{checkArity: arity, isWrite: isWrite, queueable: queueable, fn: fn}
}

// IsWrite reports whether cmd (case-insensitive) is broadcast to peers
// when it succeeds on a leader. Queueing inside MULTI does not depend on
// it: Dispatch queues every queueable command while a transaction is open.
func (d *Dispatcher) IsWrite(cmd string) bool {
	e, ok := d.table[strings.ToUpper(cmd)]
	return ok && e.isWrite
}

// Dispatch executes one parsed command. args[0] is the command name. raw is
// the verbatim inbound bytes, used only when the command is replicated.
func (d *Dispatcher) Dispatch(ctx *Context, args []string, raw []byte) Outcome {
	if len(args) == 0 {
		return Outcome{Reply: errSyntax}
	}
	name := strings.ToUpper(args[0])
	trackHandshake(ctx.Client, name, args)

	if name == "EXEC" {
		return d.execExec(ctx, args)
	}

	e, ok := d.table[name]
	if !ok {
		return Outcome{Reply: errCommandNotSupported}
	}
	if !e.checkArity(len(args)) {
		return Outcome{Reply: errWrongArgs(strings.ToLower(name))}
	}

	if e.queueable && ctx.Client != nil && ctx.Client.InMulti() {
		ctx.Client.Enqueue(state.Queued{Args: args, Raw: raw})
		return Outcome{Reply: resp.Queued()}
	}

	out := e.fn(ctx, args)
	if e.isWrite && out.Reply.Type != resp.Error && ctx.State.Role == state.RoleLeader {
		out.Replicate = true
	}
	if out.Replicate {
		repl.Broadcast(ctx.State, raw)
	}
	return out
}

func (d *Dispatcher) execExec(ctx *Context, args []string) Outcome {
	if len(args) != 1 {
		return Outcome{Reply: errWrongArgs("exec")}
	}
	if ctx.Client == nil || !ctx.Client.InMulti() {
		return Outcome{Reply: errExecWithoutMulti}
	}
	queued := ctx.Client.DrainMulti()
	replies := make([]resp.Value, len(queued))
	for i, q := range queued {
		replies[i] = d.Dispatch(ctx, q.Args, q.Raw).Reply
	}
	return Outcome{Reply: resp.Arr(replies...)}
}

// Apply executes a replicated write command against shared state without
// producing a client-visible reply. This is the follower-side application
// path; EXEC runs its queued commands through Dispatch instead, since it
// collects their replies.
func (d *Dispatcher) Apply(ctx *Context, args []string) error {
	out := d.Dispatch(ctx, args, nil)
	if out.Reply.Type == resp.Error {
		return fmt.Errorf("apply %s: %s", args[0], out.Reply.Str)
	}
	return nil
}

// trackHandshake advances the client's replica-identification state: only
// the exact sequence PING → REPLCONF listening-port <port> → REPLCONF capa
// psync2 leaves a client eligible for PSYNC promotion; any deviation resets
// it to a normal client. PSYNC itself is left for cmdPsync to consume.
func trackHandshake(c *state.Client, name string, args []string) {
	if c == nil {
		return
	}
	cur := c.Handshake()
	next := state.HandshakeNone
	switch {
	case name == "PING" && len(args) == 1:
		next = state.HandshakePing
	case name == "REPLCONF" && len(args) == 3 &&
		strings.EqualFold(args[1], "listening-port") && cur == state.HandshakePing:
		next = state.HandshakePort
	case name == "REPLCONF" && len(args) == 3 &&
		strings.EqualFold(args[1], "capa") && strings.EqualFold(args[2], "psync2") &&
		cur == state.HandshakePort:
		next = state.HandshakeCapa
	case name == "PSYNC":
		return
	}
	c.SetHandshake(next)
}

func cmdPing(ctx *Context, args []string) Outcome {
	if len(args) == 2 {
		return Outcome{Reply: resp.Simple(args[1])}
	}
	return Outcome{Reply: resp.Simple("PONG")}
}

func cmdEcho(ctx *Context, args []string) Outcome {
	return Outcome{Reply: resp.Bulk(args[1])}
}

func cmdGet(ctx *Context, args []string) Outcome {
	if ctx.State.Streams.Exists(args[1]) {
		return Outcome{Reply: errNotValidType("get")}
	}
	v, ok := ctx.State.KV.Get(args[1])
	if !ok {
		return Outcome{Reply: resp.NullBulk()}
	}
	return Outcome{Reply: resp.Bulk(v)}
}

func cmdSet(ctx *Context, args []string) Outcome {
	if ctx.State.Streams.Exists(args[1]) {
		return Outcome{Reply: errNotValidType("set")}
	}
	ttl := time.Duration(0)
	if len(args) == 5 {
		unit := strings.ToUpper(args[3])
		n, err := strconv.ParseInt(args[4], 10, 64)
		if err != nil {
			return Outcome{Reply: errSyntax}
		}
		switch unit {
		case "EX":
			ttl = time.Duration(n) * time.Second
		case "PX":
			ttl = time.Duration(n) * time.Millisecond
		default:
			return Outcome{Reply: errSyntax}
		}
	}
	ctx.State.KV.Set(args[1], args[2], ttl)
	return Outcome{Reply: resp.OK()}
}

func cmdIncr(ctx *Context, args []string) Outcome {
	if ctx.State.Streams.Exists(args[1]) {
		return Outcome{Reply: errNotValidType("incr")}
	}
	n, err := ctx.State.KV.Incr(args[1])
	if err != nil {
		return Outcome{Reply: errNotAnInteger}
	}
	return Outcome{Reply: resp.Int64(n)}
}

func cmdType(ctx *Context, args []string) Outcome {
	key := args[1]
	if ctx.State.KV.Has(key) {
		return Outcome{Reply: resp.Simple("string")}
	}
	if ctx.State.Streams.Exists(key) {
		return Outcome{Reply: resp.Simple("stream")}
	}
	return Outcome{Reply: resp.Simple("none")}
}

func cmdKeys(ctx *Context, args []string) Outcome {
	// Pattern is currently treated as match-all.
	pairs := ctx.State.KV.Iter()
	elems := make([]resp.Value, len(pairs))
	for i, p := range pairs {
		elems[i] = resp.Bulk(p.Key)
	}
	return Outcome{Reply: resp.Arr(elems...)}
}

func cmdConfigGet(ctx *Context, args []string) Outcome {
	if strings.ToUpper(args[1]) != "GET" {
		return Outcome{Reply: errUnknownSubcommand(args[1])}
	}
	name := strings.ToLower(args[2])
	var val string
	switch name {
	case "bind_address", "bind":
		val = ctx.Config.BindAddress
	case "listening_port", "port":
		val = strconv.Itoa(ctx.Config.ListenPort)
	case "dir":
		val = ctx.Config.Dir
	case "dbfilename":
		val = ctx.Config.DBFilename
	case "replicaof":
		val = ctx.Config.ReplicaOf
	default:
		return Outcome{Reply: resp.Arr()}
	}
	return Outcome{Reply: resp.Arr(resp.Bulk(name), resp.Bulk(val))}
}

func cmdInfo(ctx *Context, args []string) Outcome {
	var b strings.Builder
	fmt.Fprintf(&b, "role:%s\r\n", ctx.State.Role.String())
	fmt.Fprintf(&b, "master_replid:%s\r\n", ctx.State.Meta.MasterReplID)
	fmt.Fprintf(&b, "master_repl_offset:%d\r\n", ctx.State.Meta.Offset())
	fmt.Fprintf(&b, "\r\n# Server\r\n")
	fmt.Fprintf(&b, "pid:%d\r\n", ctx.State.Meta.PID)
	fmt.Fprintf(&b, "uptime_in_seconds:%d\r\n", int64(time.Since(ctx.State.Meta.StartedAt).Seconds()))
	fmt.Fprintf(&b, "goroutines:%d\r\n", runtime.NumGoroutine())
	b.WriteString("\r\n# Memory\r\n")
	b.WriteString(sysinfo.Sample())
	return Outcome{Reply: resp.Bulk(b.String())}
}

func cmdSaveStub(ctx *Context, args []string) Outcome {
	// The actual snapshot write is installed by cmd/redis-server, which
	// owns the configured file path, through SetSaveHook.
	if saveHook != nil {
		if err := saveHook(); err != nil {
			return Outcome{Reply: resp.Err("ERR " + err.Error())}
		}
	}
	return Outcome{Reply: resp.OK()}
}

// saveHook lets the server wire SAVE to the RDB writer without this
// package importing internal/server (which would cycle back here).
var saveHook func() error

// SetSaveHook installs the function SAVE calls. The autosave job is given
// its own function by cmd/redis-server and does not go through this hook.
func SetSaveHook(fn func() error) { saveHook = fn }

func cmdMulti(ctx *Context, args []string) Outcome {
	if ctx.Client != nil {
		ctx.Client.BeginMulti()
	}
	return Outcome{Reply: resp.OK()}
}

func cmdDiscard(ctx *Context, args []string) Outcome {
	if ctx.Client == nil || !ctx.Client.InMulti() {
		return Outcome{Reply: errDiscardWithoutMulti}
	}
	ctx.Client.DiscardMulti()
	return Outcome{Reply: resp.OK()}
}

func cmdReplconf(ctx *Context, args []string) Outcome {
	sub := strings.ToUpper(args[1])
	if sub == "ACK" && len(args) >= 3 {
		if ctx.Peer != nil {
			if n, err := strconv.ParseInt(args[2], 10, 64); err == nil {
				ctx.Peer.SetBytesAcked(n)
			}
		}
		return Outcome{Suppress: true}
	}
	return Outcome{Reply: resp.OK()}
}

func cmdPsync(ctx *Context, args []string) Outcome {
	if args[1] != "?" || args[2] != "-1" ||
		ctx.Client == nil || ctx.Client.Handshake() != state.HandshakeCapa {
		if ctx.Client != nil {
			ctx.Client.SetHandshake(state.HandshakeNone)
		}
		return Outcome{Reply: errSyntax}
	}
	ctx.Client.SetHandshake(state.HandshakeNone)
	header := repl.FullResyncHeader(ctx.State.Meta.MasterReplID)
	framed := repl.BulkFramedRDB(rdbSnapshot())
	return Outcome{Raw: append(header, framed...), Promote: true}
}

// rdbSnapshot lets the server wire PSYNC's payload to the RDB writer
// without this package importing internal/server.
var rdbSnapshot = func() []byte { return nil }

// SetRDBSnapshotHook installs the function PSYNC uses to build its full
// resync payload.
func SetRDBSnapshotHook(fn func() []byte) { rdbSnapshot = fn }

func cmdWait(ctx *Context, args []string) Outcome {
	numReplicas, err1 := strconv.Atoi(args[1])
	timeoutMs, err2 := strconv.Atoi(args[2])
	if err1 != nil || err2 != nil {
		return Outcome{Reply: errNotAnInteger}
	}
	n := repl.Wait(ctx.State, numReplicas, timeoutMs)
	return Outcome{Reply: resp.Int64(int64(n))}
}

func cmdXadd(ctx *Context, args []string) Outcome {
	key, idSpec := args[1], args[2]
	if ctx.State.KV.Has(key) {
		return Outcome{Reply: errNotValidType("xadd")}
	}
	fieldArgs := args[3:]
	fields := make([]stream.Field, 0, len(fieldArgs)/2)
	for i := 0; i < len(fieldArgs); i += 2 {
		fields = append(fields, stream.Field{Name: fieldArgs[i], Value: fieldArgs[i+1]})
	}
	id, err := ctx.State.Streams.Append(key, idSpec, fields)
	if err != nil {
		return Outcome{Reply: xaddError(err)}
	}
	return Outcome{Reply: resp.Bulk(id.String())}
}

func xaddError(err error) resp.Value {
	switch err {
	case stream.ErrZero:
		return errXaddZero
	case stream.ErrSmallerThanTop:
		return errXaddSmaller
	default:
		return errSyntax
	}
}

func cmdXrange(ctx *Context, args []string) Outcome {
	if ctx.State.KV.Has(args[1]) {
		return Outcome{Reply: errNotValidType("xrange")}
	}
	entries, err := ctx.State.Streams.XRange(args[1], args[2], args[3])
	switch err {
	case nil:
		return Outcome{Reply: encodeEntries(entries)}
	case stream.ErrKeyNotFound:
		return Outcome{Reply: errKeyDoesNotExist}
	case stream.ErrNoEntriesInRange:
		return Outcome{Reply: errNoEntriesInRange}
	default:
		return Outcome{Reply: errSyntax}
	}
}

// cmdXread implements XREAD [BLOCK ms] STREAMS key... id.... A
// raw id of "$" resolves to the stream's current last id at call time, the
// usual way of asking to block for only entries that arrive after this call.
func cmdXread(ctx *Context, args []string) Outcome {
	rest := args[1:]
	blocking := false
	var timeout time.Duration
	if len(rest) >= 2 && strings.ToUpper(rest[0]) == "BLOCK" {
		ms, err := strconv.Atoi(rest[1])
		if err != nil {
			return Outcome{Reply: errNotAnInteger}
		}
		blocking = true
		timeout = time.Duration(ms) * time.Millisecond
		rest = rest[2:]
	}
	if len(rest) < 3 || strings.ToUpper(rest[0]) != "STREAMS" {
		return Outcome{Reply: errSyntax}
	}
	rest = rest[1:]
	if len(rest)%2 != 0 {
		return Outcome{Reply: errSyntax}
	}
	n := len(rest) / 2
	keys := rest[:n]
	rawIDs := rest[n:]

	afters := make([]stream.ID, n)
	for i, raw := range rawIDs {
		if raw == "$" {
			if last, ok := ctx.State.Streams.LastID(keys[i]); ok {
				afters[i] = last
			}
			continue
		}
		id, err := stream.ParseRangeBound(raw, false)
		if err != nil {
			return Outcome{Reply: errSyntax}
		}
		afters[i] = id
	}

	if reply, any := xreadCollect(ctx, keys, afters); any {
		return Outcome{Reply: reply}
	}
	if !blocking {
		return Outcome{Reply: resp.NullBulk()}
	}

	type result struct {
		ok bool
	}
	done := make(chan result, n)
	for i, key := range keys {
		i, key := i, key
		go func() {
			_, _, ok := ctx.State.Streams.WaitForNew(key, afters[i], timeout)
			done <- result{ok: ok}
		}()
	}
	if r := <-done; !r.ok {
		return Outcome{Reply: resp.NullBulk()}
	}
	if reply, any := xreadCollect(ctx, keys, afters); any {
		return Outcome{Reply: reply}
	}
	return Outcome{Reply: resp.NullBulk()}
}

func xreadCollect(ctx *Context, keys []string, afters []stream.ID) (resp.Value, bool) {
	var perKey []resp.Value
	for i, key := range keys {
		entries, err := ctx.State.Streams.XRange(key, afters[i].String(), "++")
		if err != nil {
			continue
		}
		perKey = append(perKey, resp.Arr(resp.Bulk(key), encodeEntries(entries)))
	}
	if len(perKey) == 0 {
		return resp.Value{}, false
	}
	return resp.Arr(perKey...), true
}

func encodeEntries(entries []stream.Entry) resp.Value {
	out := make([]resp.Value, len(entries))
	for i, e := range entries {
		fieldVals := make([]resp.Value, 0, len(e.Fields)*2)
		for _, f := range e.Fields {
			fieldVals = append(fieldVals, resp.Bulk(f.Name), resp.Bulk(f.Value))
		}
		out[i] = resp.Arr(resp.Bulk(e.ID.String()), resp.Arr(fieldVals...))
	}
	return resp.Arr(out...)
}
