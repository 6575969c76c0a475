// Command redis-server runs the wire-compatible in-memory data server:
// config parsing, shared-state construction, RDB bootstrap, and the TCP
// accept loop, wired together the way cmd/+internal/ split elsewhere in
// the pack (see DESIGN.md).
package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xenking/redis-server/internal/autosave"
	"github.com/xenking/redis-server/internal/command"
	"github.com/xenking/redis-server/internal/config"
	"github.com/xenking/redis-server/internal/repl"
	"github.com/xenking/redis-server/internal/server"
	"github.com/xenking/redis-server/internal/state"
)

func main() {
	cfg := config.Parse(os.Args[1:])

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	role := state.RoleLeader
	var leaderAddr string
	if cfg.IsFollower() {
		role = state.RoleFollower
		var err error
		leaderAddr, err = cfg.LeaderHostPort()
		if err != nil {
			log.WithError(err).Fatal("invalid replicaof")
		}
	}

	meta := &state.Meta{
		MasterReplID: repl.GenerateReplID(),
		LeaderAddr:   leaderAddr,
		StartedAt:    time.Now(),
		PID:          os.Getpid(),
	}
	st := state.New(role, meta)

	if err := loadSnapshot(cfg, st, log); err != nil {
		log.WithError(err).Warn("starting with an empty dataset")
	}

	command.SetSaveHook(func() error { return saveSnapshot(cfg, st) })
	command.SetRDBSnapshotHook(func() []byte { return snapshotBytes(st) })

	dispatcher := command.New()

	stop := make(chan struct{})

	go st.KV.RunSweeper(time.Second, stop)

	autosaveJob := autosave.New(cfg.SaveInterval, func() error { return saveSnapshot(cfg, st) }, log)
	defer autosaveJob.Stop()

	if role == state.RoleFollower {
		follower := &repl.Follower{
			LeaderAddr: leaderAddr,
			ListenPort: cfg.ListenPort,
			Apply:      func(args []string) error { return dispatcher.Apply(&command.Context{State: st, Config: cfg}, args) },
			Log:        log,
		}
		go follower.Run(stop)
	}

	srv := server.New(cfg, st, dispatcher, log)
	log.WithField("role", role.String()).Info("redis-server starting")
	if err := srv.ListenAndServe(stop); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}
