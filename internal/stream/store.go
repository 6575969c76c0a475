// Package stream implements the append-only stream store: an ordered,
// per-key log of entries keyed by (ms, seq), with range queries and a
// blocking wait-for-new-entry notifier.
package stream

import (
	"sync"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/pkg/errors"
)

// Field is one (name, value) pair of an entry, order-preserving.
type Field struct {
	Name  string
	Value string
}

// Entry is one stored stream record.
type Entry struct {
	ID     ID
	Fields []Field
}

// ErrKeyNotFound is returned by XRange when the stream key doesn't exist.
var ErrKeyNotFound = errors.New("stream: key not found")

// ErrNoEntriesInRange is returned by XRange when the key exists but no
// entry falls in the requested range.
var ErrNoEntriesInRange = errors.New("stream: no entries in range")

// waitCeiling bounds the "block indefinitely" (timeout 0) case so an
// abandoned waiter can't pin its goroutine forever.
const waitCeiling = 24 * time.Hour

// log is the per-key append-only entry sequence plus its blocking-read
// notifier. Appends only ever grow entries; nothing is ever deleted.
type log struct {
	mu      sync.Mutex
	entries []Entry
	lastID  ID
	hasLast bool
	waiters []chan struct{}
}

func (l *log) snapshotLastID() (ID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastID, l.hasLast
}

// waitForNew blocks until an entry strictly greater than after is appended,
// or timeout elapses, returning the id that unblocked it. The deadline is
// fixed at entry: spurious wakes (an append that doesn't pass after) don't
// restart the clock.
func (l *log) waitForNew(after ID, timeout time.Duration) (ID, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		l.mu.Lock()
		if l.hasLast && after.Less(l.lastID) {
			id := l.lastID
			l.mu.Unlock()
			return id, true
		}
		ch := make(chan struct{})
		l.waiters = append(l.waiters, ch)
		l.mu.Unlock()

		select {
		case <-ch:
			// recheck at the top of the loop: another waiter's id may not
			// be the one we care about if multiple appends race.
		case <-deadline.C:
			return ID{}, false
		}
	}
}

// Store maps stream keys to logs, backed by a radix tree for prefix lookup
// on the key. The tree itself is copy-on-write; root is swapped under
// mu only when a brand-new key is introduced, never on append to an
// existing key (which only touches that key's log, not the tree).
type Store struct {
	mu   sync.RWMutex
	tree *iradix.Tree
}

// New returns an empty Store.
func New() *Store {
	return &Store{tree: iradix.New()}
}

func (s *Store) getLog(key string) (*log, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tree.Get([]byte(key))
	if !ok {
		return nil, false
	}
	return v.(*log), true
}

func (s *Store) getOrCreateLog(key string) *log {
	if l, ok := s.getLog(key); ok {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.tree.Get([]byte(key)); ok {
		return v.(*log)
	}
	l := &log{}
	tree, _, _ := s.tree.Insert([]byte(key), l)
	s.tree = tree
	return l
}

// Append resolves idSpec against the stream's current last id and inserts
// a new entry, then wakes any blocked readers.
func (s *Store) Append(key, idSpec string, fields []Field) (ID, error) {
	l := s.getOrCreateLog(key)
	now := uint64(time.Now().UnixMilli())

	l.mu.Lock()
	id, err := resolve(idSpec, l.lastID, l.hasLast, now)
	if err != nil {
		l.mu.Unlock()
		return ID{}, err
	}
	l.entries = append(l.entries, Entry{ID: id, Fields: fields})
	l.lastID = id
	l.hasLast = true
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return id, nil
}

// rangeQuery describes a resolved [start, end] (or (start, end]) bound.
type rangeQuery struct {
	start          ID
	end            ID
	startInclusive bool
}

func parseRange(startRaw, endRaw string) (rangeQuery, error) {
	var q rangeQuery
	q.startInclusive = true

	if startRaw == "-" {
		q.start = ID{}
	} else {
		id, err := ParseRangeBound(startRaw, false)
		if err != nil {
			return rangeQuery{}, err
		}
		q.start = id
	}

	switch endRaw {
	case "+":
		q.end = ID{Ms: ^uint64(0), Seq: ^uint64(0)}
	case "++":
		q.end = ID{Ms: ^uint64(0), Seq: ^uint64(0)}
		q.startInclusive = false
	default:
		id, err := ParseRangeBound(endRaw, true)
		if err != nil {
			return rangeQuery{}, err
		}
		q.end = id
	}
	return q, nil
}

// XRange returns entries in [start, end] (or, when end == "++", strictly
// after start through the latest).
func (s *Store) XRange(key, startRaw, endRaw string) ([]Entry, error) {
	l, ok := s.getLog(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	q, err := parseRange(startRaw, endRaw)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for _, e := range l.entries {
		if q.startInclusive {
			if e.ID.Less(q.start) {
				continue
			}
		} else if !q.start.Less(e.ID) {
			continue
		}
		if q.end.Less(e.ID) {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, ErrNoEntriesInRange
	}
	return out, nil
}

// LastID returns the stream's current last id, if the key exists.
func (s *Store) LastID(key string) (ID, bool) {
	l, ok := s.getLog(key)
	if !ok {
		return ID{}, false
	}
	return l.snapshotLastID()
}

// Exists reports whether key names a stream.
func (s *Store) Exists(key string) bool {
	_, ok := s.getLog(key)
	return ok
}

// WaitForNew blocks until an entry strictly greater than after is appended
// to key, or timeout elapses. A zero timeout blocks up to waitCeiling. It
// returns the stream's last id as observed at call entry and the id of the
// entry that satisfied the wait.
func (s *Store) WaitForNew(key string, after ID, timeout time.Duration) (lastAtEntry ID, newID ID, ok bool) {
	if timeout <= 0 {
		timeout = waitCeiling
	}
	l := s.getOrCreateLog(key)
	lastAtEntry, _ = l.snapshotLastID()
	newID, ok = l.waitForNew(after, timeout)
	return lastAtEntry, newID, ok
}
