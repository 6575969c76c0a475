// Package rdb implements the on-disk snapshot codec:
// a minimal RDB-compatible layout covering exactly what this server stores
// — string keys with optional expiry — not the full Redis object model.
package rdb

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Magic is the fixed 9-byte header every RDB file starts with.
const Magic = "REDIS0011"

// Opcodes used by the subset of the format this server produces/consumes.
const (
	opAux        = 0xFA
	opDBSelect   = 0xFE
	opResizeDB   = 0xFB
	opExpireMS   = 0xFC
	opExpireSec  = 0xFD
	opEOF        = 0xFF
	typeString   = 0x00
	dbIndex      = 0
	redisVerName = "redis-ver"
	redisVerVal  = "6.0.16"
)

// ErrBadMagic is returned by Load when the header doesn't start with the
// expected "REDIS" signature.
var ErrBadMagic = errors.New("rdb: bad magic header")

// Record is one key's snapshot entry.
type Record struct {
	Key       string
	Value     string
	ExpiresAt time.Time // zero means no expiry
}

// Save writes records in the fixed layout: header, a
// redis-ver aux field, the (single) database header and hash-table-size
// hint, each record, then the EOF marker and an 8-byte (zeroed) checksum.
func Save(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(Magic); err != nil {
		return err
	}
	if err := writeAux(bw, redisVerName, redisVerVal); err != nil {
		return err
	}

	if err := bw.WriteByte(opDBSelect); err != nil {
		return err
	}
	if err := writeLength(bw, dbIndex); err != nil {
		return err
	}

	expireCount := 0
	for _, r := range records {
		if !r.ExpiresAt.IsZero() {
			expireCount++
		}
	}
	if err := bw.WriteByte(opResizeDB); err != nil {
		return err
	}
	if err := writeLength(bw, uint64(len(records))); err != nil {
		return err
	}
	if err := writeLength(bw, uint64(expireCount)); err != nil {
		return err
	}

	for _, r := range records {
		if err := writeRecord(bw, r); err != nil {
			return err
		}
	}

	if err := bw.WriteByte(opEOF); err != nil {
		return err
	}
	if _, err := bw.Write(make([]byte, 8)); err != nil {
		return err
	}
	return bw.Flush()
}

func writeAux(w *bufio.Writer, key, val string) error {
	if err := w.WriteByte(opAux); err != nil {
		return err
	}
	if err := writeString(w, key); err != nil {
		return err
	}
	return writeString(w, val)
}

func writeRecord(w *bufio.Writer, r Record) error {
	if !r.ExpiresAt.IsZero() {
		if err := w.WriteByte(opExpireMS); err != nil {
			return err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(r.ExpiresAt.UnixMilli()))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	if err := w.WriteByte(typeString); err != nil {
		return err
	}
	if err := writeString(w, r.Key); err != nil {
		return err
	}
	return writeString(w, r.Value)
}

// writeLength encodes n using the RDB 2-bit-prefix length scheme:
// 6-bit (00), 14-bit big-endian (01), or 32-bit big-endian (10) length.
func writeLength(w *bufio.Writer, n uint64) error {
	switch {
	case n < 1<<6:
		return w.WriteByte(byte(n))
	case n < 1<<14:
		if err := w.WriteByte(0x40 | byte(n>>8)); err != nil {
			return err
		}
		return w.WriteByte(byte(n))
	default:
		if err := w.WriteByte(0x80); err != nil {
			return err
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(n))
		_, err := w.Write(buf[:])
		return err
	}
}

func writeString(w *bufio.Writer, s string) error {
	if err := writeLength(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

// Load reads records back from an RDB-formatted stream, ignoring the aux,
// db-select, and resize-db framing beyond validating the magic header.
func Load(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)

	var header [9]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, err
	}
	if string(header[:5]) != "REDIS" {
		return nil, ErrBadMagic
	}

	var records []Record
	var pendingExpiry time.Time

	for {
		op, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		switch op {
		case opEOF:
			if _, err := io.CopyN(io.Discard, br, 8); err != nil && err != io.EOF {
				return nil, err
			}
			return records, nil

		case opAux:
			if _, err := readString(br); err != nil {
				return nil, err
			}
			if _, err := readString(br); err != nil {
				return nil, err
			}

		case opDBSelect:
			if _, err := readLength(br); err != nil {
				return nil, err
			}

		case opResizeDB:
			if _, err := readLength(br); err != nil {
				return nil, err
			}
			if _, err := readLength(br); err != nil {
				return nil, err
			}

		case opExpireMS:
			var buf [8]byte
			if _, err := io.ReadFull(br, buf[:]); err != nil {
				return nil, err
			}
			pendingExpiry = time.UnixMilli(int64(binary.LittleEndian.Uint64(buf[:])))

		case opExpireSec:
			var buf [4]byte
			if _, err := io.ReadFull(br, buf[:]); err != nil {
				return nil, err
			}
			pendingExpiry = time.Unix(int64(binary.LittleEndian.Uint32(buf[:])), 0)

		case typeString:
			key, err := readString(br)
			if err != nil {
				return nil, err
			}
			val, err := readString(br)
			if err != nil {
				return nil, err
			}
			records = append(records, Record{Key: key, Value: val, ExpiresAt: pendingExpiry})
			pendingExpiry = time.Time{}

		default:
			return nil, errors.Errorf("rdb: unsupported opcode 0x%02x", op)
		}
	}
}

func readLength(r *bufio.Reader) (uint64, error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b0 >> 6 {
	case 0:
		return uint64(b0 & 0x3F), nil
	case 1:
		b1, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		return uint64(b0&0x3F)<<8 | uint64(b1), nil
	case 2:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint32(buf[:])), nil
	default:
		return 0, errors.New("rdb: unsupported special length encoding")
	}
}

// EmptyRDB renders the minimal well-formed snapshot, one with no records.
// PSYNC does not use it: its payload is rendered from the live keyspace.
func EmptyRDB() []byte {
	var buf bytes.Buffer
	_ = Save(&buf, nil)
	return buf.Bytes()
}

func readString(r *bufio.Reader) (string, error) {
	n, err := readLength(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
