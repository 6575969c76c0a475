package stream

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ID identifies a stream entry by (milliseconds, sequence), ordered
// lexicographically on (ms, seq).
type ID struct {
	Ms  uint64
	Seq uint64
}

// Zero is the sentinel "0-0" id, which no real entry may use.
var Zero = ID{}

// Less reports whether id sorts strictly before other.
func (id ID) Less(other ID) bool {
	if id.Ms != other.Ms {
		return id.Ms < other.Ms
	}
	return id.Seq < other.Seq
}

// LessEq reports id <= other.
func (id ID) LessEq(other ID) bool {
	return id == other || id.Less(other)
}

// String renders the canonical "<ms>-<seq>" form.
func (id ID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Errors returned by Append, one per distinct id-rejection kind (the
// dispatcher maps these to the wire strings).
var (
	ErrZero           = errors.New("stream: id must be greater than 0-0")
	ErrSmallerThanTop = errors.New("stream: id equal or smaller than the target stream top item")
	ErrNotValid       = errors.New("stream: id is not a valid entry id")
)

// spec describes how a raw XADD id argument should be resolved against the
// stream's last id and, for "*"/"<ms>-*", the current wall clock.
type spec struct {
	auto    bool   // "*"
	autoSeq bool   // "<ms>-*"
	ms      uint64 // parsed ms, meaningful unless auto
	seq     uint64 // parsed seq, meaningful only for the fully explicit form
}

// parseSpec parses the XADD id grammar: "*", "<ms>-*", or "<ms>-<seq>".
func parseSpec(raw string) (spec, error) {
	if raw == "*" {
		return spec{auto: true}, nil
	}
	dash := strings.IndexByte(raw, '-')
	if dash < 0 {
		ms, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return spec{}, ErrNotValid
		}
		return spec{ms: ms}, nil
	}
	msPart, seqPart := raw[:dash], raw[dash+1:]
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return spec{}, ErrNotValid
	}
	if seqPart == "*" {
		return spec{autoSeq: true, ms: ms}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return spec{}, ErrNotValid
	}
	return spec{ms: ms, seq: seq}, nil
}

// resolve computes the concrete id for a parsed spec against lastID and the
// supplied wall-clock millisecond reading, applying the auto-generation
// rules and strictness checks.
func resolve(raw string, lastID ID, hasLast bool, nowMs uint64) (ID, error) {
	sp, err := parseSpec(raw)
	if err != nil {
		return ID{}, err
	}

	var id ID
	switch {
	case sp.auto:
		id = ID{Ms: nowMs, Seq: 0}
		if hasLast && id.Ms == lastID.Ms && id.Seq <= lastID.Seq {
			id.Seq = lastID.Seq + 1
		}
	case sp.autoSeq:
		if hasLast && sp.ms == lastID.Ms {
			id = ID{Ms: sp.ms, Seq: lastID.Seq + 1}
		} else {
			id = ID{Ms: sp.ms, Seq: 0}
		}
	default:
		id = ID{Ms: sp.ms, Seq: sp.seq}
	}

	if id == Zero {
		return ID{}, ErrZero
	}
	if hasLast && !lastID.Less(id) {
		return ID{}, ErrSmallerThanTop
	}
	return id, nil
}

// ParseRangeBound parses an explicit range endpoint for XRANGE, where a bare
// "<ms>" compares as (ms, 0) on the start side or (ms, max) on the end side.
func ParseRangeBound(raw string, endSide bool) (ID, error) {
	dash := strings.IndexByte(raw, '-')
	if dash < 0 {
		ms, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return ID{}, ErrNotValid
		}
		if endSide {
			return ID{Ms: ms, Seq: ^uint64(0)}, nil
		}
		return ID{Ms: ms, Seq: 0}, nil
	}
	ms, err := strconv.ParseUint(raw[:dash], 10, 64)
	if err != nil {
		return ID{}, ErrNotValid
	}
	seq, err := strconv.ParseUint(raw[dash+1:], 10, 64)
	if err != nil {
		return ID{}, ErrNotValid
	}
	return ID{Ms: ms, Seq: seq}, nil
}
