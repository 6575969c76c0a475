package resp

import (
	"strconv"
	"strings"
)

// Encode renders v in RESP2 wire format.
func Encode(v Value) []byte {
	var b strings.Builder
	writeValue(&b, v)
	return []byte(b.String())
}

func writeValue(b *strings.Builder, v Value) {
	switch v.Type {
	case SimpleString:
		b.WriteByte('+')
		b.WriteString(v.Str)
		b.WriteString("\r\n")
	case Error:
		b.WriteByte('-')
		b.WriteString(v.Str)
		b.WriteString("\r\n")
	case Integer:
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(v.Int, 10))
		b.WriteString("\r\n")
	case BulkString:
		if v.Null {
			b.WriteString("$-1\r\n")
			return
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(len(v.Str)))
		b.WriteString("\r\n")
		b.WriteString(v.Str)
		b.WriteString("\r\n")
	case Array:
		if v.Null {
			b.WriteString("*-1\r\n")
			return
		}
		b.WriteByte('*')
		b.WriteString(strconv.Itoa(len(v.Array)))
		b.WriteString("\r\n")
		for _, elem := range v.Array {
			writeValue(b, elem)
		}
	}
}

// EncodeCommand renders args as the inline-array-of-bulk-strings form used
// to issue commands to a peer: `*<n>\r\n$<len>\r\n<arg>\r\n...`. The
// replication client and the leader's broadcast path both use this to build
// verbatim command frames.
func EncodeCommand(args ...string) []byte {
	elems := make([]Value, len(args))
	for i, a := range args {
		elems[i] = Bulk(a)
	}
	return Encode(Arr(elems...))
}

// OK is the canned `+OK\r\n` reply.
func OK() Value { return Simple("OK") }

// Queued is the canned `+QUEUED\r\n` reply used while a MULTI is open.
func Queued() Value { return Simple("QUEUED") }
