// Package autosave schedules background RDB snapshots on a fixed cadence,
// the ambient persistence cousin of the explicit SAVE command.
package autosave

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job owns a running cron schedule that calls a save function on a fixed
// interval until Stop is called.
type Job struct {
	cron *cron.Cron
}

// New starts a cron-scheduled job that invokes fn every interval, logging
// (but never propagating) failures so one bad snapshot doesn't stop the
// schedule. Returns nil when interval <= 0, meaning autosave is disabled.
func New(interval time.Duration, fn func() error, log *logrus.Logger) *Job {
	if interval <= 0 {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc("@every "+interval.String(), func() {
		if err := fn(); err != nil {
			log.WithError(err).Warn("scheduled save failed")
		}
	})
	if err != nil {
		log.WithError(err).Error("failed to schedule autosave, disabling it")
		return nil
	}
	c.Start()
	return &Job{cron: c}
}

// Stop cancels the schedule. Safe to call on a nil Job (autosave disabled).
func (j *Job) Stop() {
	if j == nil {
		return
	}
	j.cron.Stop()
}
