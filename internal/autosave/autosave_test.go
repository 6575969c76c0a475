package autosave

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewDisabledWhenIntervalZero(t *testing.T) {
	j := New(0, func() error { return nil }, discardLogger())
	if j != nil {
		t.Fatal("expected nil Job when interval <= 0")
	}
	j.Stop() // must not panic on a nil receiver
}

func TestJobRunsOnSchedule(t *testing.T) {
	calls := make(chan struct{}, 4)
	j := New(50*time.Millisecond, func() error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	}, discardLogger())
	defer j.Stop()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("autosave job never ran")
	}
}
