package config

import "testing"

func TestParseDefaults(t *testing.T) {
	cfg := Parse(nil)
	if cfg.BindAddress != "127.0.0.1" {
		t.Fatalf("BindAddress = %q, want 127.0.0.1", cfg.BindAddress)
	}
	if cfg.ListenPort != 6379 {
		t.Fatalf("ListenPort = %d, want 6379", cfg.ListenPort)
	}
	if cfg.IsFollower() {
		t.Fatal("IsFollower() = true, want false with no --replicaof")
	}
}

func TestParseOverridesCaseInsensitive(t *testing.T) {
	cfg := Parse([]string{"--BIND", "0.0.0.0", "--Port", "7000", "--Dir", "/tmp/data"})
	if cfg.BindAddress != "0.0.0.0" {
		t.Fatalf("BindAddress = %q, want 0.0.0.0", cfg.BindAddress)
	}
	if cfg.ListenPort != 7000 {
		t.Fatalf("ListenPort = %d, want 7000", cfg.ListenPort)
	}
	if cfg.Dir != "/tmp/data" {
		t.Fatalf("Dir = %q, want /tmp/data", cfg.Dir)
	}
}

func TestParseReplicaOf(t *testing.T) {
	cfg := Parse([]string{"--replicaof", "10.0.0.1 6380"})
	if !cfg.IsFollower() {
		t.Fatal("IsFollower() = false, want true with --replicaof set")
	}
	addr, err := cfg.LeaderHostPort()
	if err != nil {
		t.Fatalf("LeaderHostPort: %v", err)
	}
	if addr != "10.0.0.1:6380" {
		t.Fatalf("LeaderHostPort = %q, want 10.0.0.1:6380", addr)
	}
}

func TestLeaderHostPortMalformed(t *testing.T) {
	cfg := Config{ReplicaOf: "just-one-field"}
	if _, err := cfg.LeaderHostPort(); err == nil {
		t.Fatal("LeaderHostPort: expected error for malformed replicaof")
	}

	cfg = Config{ReplicaOf: "host not-a-port"}
	if _, err := cfg.LeaderHostPort(); err == nil {
		t.Fatal("LeaderHostPort: expected error for non-numeric port")
	}
}
