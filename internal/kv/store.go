// Package kv implements the key-value store: a concurrent mapping from
// string keys to string values with optional TTL, lazily expired on read
// and swept in the background as a liveness optimization.
package kv

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 16

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type shard struct {
	mu   sync.Mutex
	data map[string]entry
}

// Store is a sharded, mutex-guarded key-value map. The shard for a key is
// chosen by hashing the key with xxhash, so unrelated keys rarely contend
// on the same lock, while a single command's read-then-write on one key
// always observes its own write.
type Store struct {
	shards [shardCount]*shard
}

// New returns an empty Store.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{data: make(map[string]entry)}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// Set replaces any prior binding for key. A zero ttl means no expiry.
func (s *Store) Set(key, value string, ttl time.Duration) {
	sh := s.shardFor(key)
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	sh.mu.Lock()
	sh.data[key] = e
	sh.mu.Unlock()
}

// Get returns the value for key if bound and not expired. An expired entry
// is deleted as a side effect of the read; lazy expiry is authoritative,
// independent of the background sweeper.
func (s *Store) Get(key string) (string, bool) {
	sh := s.shardFor(key)
	now := time.Now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.data[key]
	if !ok {
		return "", false
	}
	if e.expired(now) {
		delete(sh.data, key)
		return "", false
	}
	return e.value, true
}

// Has reports presence without returning the value, applying the same lazy
// expiry rule as Get. Used by TYPE to distinguish "none" from "string".
func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Delete removes key unconditionally. Returns whether it was present.
func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.data[key]
	delete(sh.data, key)
	return ok
}

// Incr applies INCR semantics: a missing key starts at 1, a present
// non-integer value is rejected, otherwise the stored integer is
// incremented by one and the new value returned.
func (s *Store) Incr(key string) (int64, error) {
	sh := s.shardFor(key)
	now := time.Now()
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.data[key]
	if ok && e.expired(now) {
		ok = false
	}
	if !ok {
		sh.data[key] = entry{value: "1"}
		return 1, nil
	}
	n, err := parseInt(e.value)
	if err != nil {
		return 0, err
	}
	n++
	e.value = formatInt(n)
	sh.data[key] = e
	return n, nil
}

// Pair is a snapshot entry returned by Iter.
type Pair struct {
	Key       string
	Value     string
	ExpiresAt time.Time // zero means no expiry
}

// Iter returns a point-in-time snapshot of all non-expired bindings, one
// shard at a time, never holding more than one shard lock at once. Used by
// KEYS * and SAVE.
func (s *Store) Iter() []Pair {
	now := time.Now()
	var out []Pair
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.data {
			if e.expired(now) {
				continue
			}
			out = append(out, Pair{Key: k, Value: e.value, ExpiresAt: e.expiresAt})
		}
		sh.mu.Unlock()
	}
	return out
}

// Len returns the count of non-expired bindings.
func (s *Store) Len() int {
	now := time.Now()
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, e := range sh.data {
			if !e.expired(now) {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// LenWithTTL returns the count of non-expired bindings that carry a TTL.
func (s *Store) LenWithTTL() int {
	now := time.Now()
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, e := range sh.data {
			if !e.expiresAt.IsZero() && !e.expired(now) {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Sweep removes every expired entry across all shards. It is a liveness
// optimization only: Get's lazy expiry is what makes expiry observable,
// Sweep just reclaims memory for keys nobody has read since they expired.
func (s *Store) Sweep() {
	now := time.Now()
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.data {
			if e.expired(now) {
				delete(sh.data, k)
			}
		}
		sh.mu.Unlock()
	}
}

// RunSweeper runs Sweep on a fixed cadence until ctx-like stop is closed.
func (s *Store) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Sweep()
		case <-stop:
			return
		}
	}
}
