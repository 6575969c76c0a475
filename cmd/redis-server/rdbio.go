package main

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xenking/redis-server/internal/config"
	"github.com/xenking/redis-server/internal/kv"
	"github.com/xenking/redis-server/internal/rdb"
	"github.com/xenking/redis-server/internal/state"
)

func snapshotPath(cfg config.Config) string {
	return filepath.Join(cfg.Dir, cfg.DBFilename)
}

// loadSnapshot populates st.KV from the configured RDB file, if present.
// A missing file is not an error: the server simply starts empty.
func loadSnapshot(cfg config.Config, st *state.State, log *logrus.Logger) error {
	path := snapshotPath(cfg)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := rdb.Load(f)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, r := range records {
		if !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now) {
			continue
		}
		var ttl time.Duration
		if !r.ExpiresAt.IsZero() {
			ttl = r.ExpiresAt.Sub(now)
		}
		st.KV.Set(r.Key, r.Value, ttl)
	}
	log.WithField("path", path).WithField("keys", len(records)).Info("loaded RDB snapshot")
	return nil
}

func toRecords(pairs []kv.Pair) []rdb.Record {
	records := make([]rdb.Record, len(pairs))
	for i, p := range pairs {
		records[i] = rdb.Record{Key: p.Key, Value: p.Value, ExpiresAt: p.ExpiresAt}
	}
	return records
}

// saveSnapshot writes the current keyspace to the configured RDB file,
// backing both the explicit SAVE command and the autosave schedule.
func saveSnapshot(cfg config.Config, st *state.State) error {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return err
	}
	path := snapshotPath(cfg)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := rdb.Save(f, toRecords(st.KV.Iter())); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// snapshotBytes renders the current keyspace as an in-memory RDB payload,
// used for PSYNC's full-resync transfer (no file I/O involved).
func snapshotBytes(st *state.State) []byte {
	var buf bytes.Buffer
	_ = rdb.Save(&buf, toRecords(st.KV.Iter()))
	return buf.Bytes()
}
