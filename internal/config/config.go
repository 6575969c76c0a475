// Package config parses the server's command-line options into an
// immutable Config record, using pflag the way the rest of this codebase's
// domain stack leans on the spf13 ecosystem for CLI concerns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Config is immutable after Parse returns.
type Config struct {
	BindAddress string
	ListenPort  int
	Dir         string
	DBFilename  string
	ReplicaOf   string // "<host> <port>", empty when this is a leader

	SaveInterval time.Duration // ambient: autosave cadence, 0 disables it
	AcceptRPS    float64       // ambient: accept-rate limit, 0 disables it
}

// IsFollower reports whether ReplicaOf designates a leader to follow.
func (c Config) IsFollower() bool { return c.ReplicaOf != "" }

// LeaderHostPort splits ReplicaOf into "<host>:<port>" form for net.Dial.
func (c Config) LeaderHostPort() (string, error) {
	fields := strings.Fields(c.ReplicaOf)
	if len(fields) != 2 {
		return "", fmt.Errorf("config: replicaof must be \"<host> <port>\", got %q", c.ReplicaOf)
	}
	if _, err := strconv.Atoi(fields[1]); err != nil {
		return "", fmt.Errorf("config: replicaof port %q is not numeric", fields[1])
	}
	return fields[0] + ":" + fields[1], nil
}

// Parse reads flags from args (normally os.Args[1:]) into a Config,
// matching flag names case-insensitively. On a parse
// or validation failure it writes a message to stderr and exits non-zero.
func Parse(args []string) Config {
	fs := pflag.NewFlagSet("redis-server", pflag.ExitOnError)
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ToLower(name))
	})

	bind := fs.String("bind", "127.0.0.1", "address to bind")
	port := fs.Int("port", 6379, "listening port")
	dir := fs.String("dir", ".", "RDB snapshot directory")
	dbfilename := fs.String("dbfilename", "dump.rdb", "RDB snapshot file name")
	replicaof := fs.String("replicaof", "", "\"<host> <port>\" of the leader to follow")
	saveInterval := fs.Duration("save-interval", 0, "autosave cadence (0 disables)")
	acceptRPS := fs.Float64("accept-rps", 0, "accept-rate limit in connections/sec (0 disables)")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, "redis-server:", err)
		os.Exit(1)
	}

	if *port < 0 || *port > 65535 {
		fmt.Fprintf(os.Stderr, "redis-server: invalid --port %d\n", *port)
		os.Exit(1)
	}

	cfg := Config{
		BindAddress:  *bind,
		ListenPort:   *port,
		Dir:          *dir,
		DBFilename:   *dbfilename,
		ReplicaOf:    strings.TrimSpace(*replicaof),
		SaveInterval: *saveInterval,
		AcceptRPS:    *acceptRPS,
	}
	if cfg.IsFollower() {
		if _, err := cfg.LeaderHostPort(); err != nil {
			fmt.Fprintln(os.Stderr, "redis-server:", err)
			os.Exit(1)
		}
	}
	return cfg
}
