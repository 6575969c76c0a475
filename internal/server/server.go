// Package server implements the TCP accept loop: bind, accept, and spawn
// one session task per connection.
package server

import (
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/xenking/redis-server/internal/command"
	"github.com/xenking/redis-server/internal/config"
	intrate "github.com/xenking/redis-server/internal/rate"
	"github.com/xenking/redis-server/internal/session"
	"github.com/xenking/redis-server/internal/state"
)

// Server owns the listening socket and the shared collaborators every
// accepted session needs a reference to.
type Server struct {
	Config     config.Config
	State      *state.State
	Dispatcher *command.Dispatcher
	Log        *logrus.Logger

	limiter *rate.Limiter
}

// New builds a Server. The accept-rate limiter is installed only when
// cfg.AcceptRPS is positive.
func New(cfg config.Config, st *state.State, d *command.Dispatcher, log *logrus.Logger) *Server {
	return &Server{
		Config:     cfg,
		State:      st,
		Dispatcher: d,
		Log:        log,
		limiter:    intrate.NewAcceptLimiter(cfg.AcceptRPS),
	}
}

// ListenAndServe binds the configured address and accepts connections
// until stop is closed, spawning one session task per connection. It
// returns nil on a clean shutdown triggered by stop.
func (s *Server) ListenAndServe(stop <-chan struct{}) error {
	addr := net.JoinHostPort(s.Config.BindAddress, strconv.Itoa(s.Config.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-stop
		ln.Close()
	}()

	s.Log.WithField("addr", addr).Info("listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				return err
			}
		}
		if s.limiter != nil && !s.limiter.Allow() {
			conn.Close()
			continue
		}
		go session.New(conn, s.State, s.Config, s.Dispatcher, s.Log).Serve()
	}
}
