package rdb

import (
	"bytes"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	records := []Record{
		{Key: "foo", Value: "bar"},
		{Key: "ttl-key", Value: "v", ExpiresAt: time.UnixMilli(time.Now().Add(time.Hour).UnixMilli())},
	}
	var buf bytes.Buffer
	if err := Save(&buf, records); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(&buf)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i, r := range records {
		if got[i].Key != r.Key || got[i].Value != r.Value {
			t.Fatalf("record %d: got %+v, want %+v", i, got[i], r)
		}
		if !got[i].ExpiresAt.Equal(r.ExpiresAt) {
			t.Fatalf("record %d expiry: got %v, want %v", i, got[i].ExpiresAt, r.ExpiresAt)
		}
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("NOTREDIS!")))
	if err != ErrBadMagic {
		t.Fatalf("got %v, want ErrBadMagic", err)
	}
}

func TestEmptyRDBLoadsBack(t *testing.T) {
	got, err := Load(bytes.NewReader(EmptyRDB()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d records, want 0", len(got))
	}
}

func TestLargeKeySetRoundTrip(t *testing.T) {
	var records []Record
	for i := 0; i < 20000; i++ {
		records = append(records, Record{Key: string(rune('a' + i%26)), Value: "v"})
	}
	var buf bytes.Buffer
	if err := Save(&buf, records); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(&buf)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
}
