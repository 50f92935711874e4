// Package watchdog raises the status-refresh-failed alert when the pod has
// stopped answering.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/podstate/internal/podstate/model"
)

// Target is the part of the manager the watchdog drives.
type Target interface {
	Snapshot() model.Snapshot
	ReportRefreshFailure(cause error)
	ExpireOverdue(ctx context.Context) (bool, error)
}

// Watchdog checks the last response time periodically. It implements the
// server Runnable contract and blocks until the context is cancelled.
type Watchdog struct {
	Target Target
	Log    logr.Logger
	Clock  clock.WithTicker

	// Threshold is how long without a response before the alert is raised.
	Threshold time.Duration
	Interval  time.Duration

	// reported holds the reference time already alerted for.
	reported time.Time
}

// Start begins the check loop.
func (w *Watchdog) Start(ctx context.Context) error {
	if w.Clock == nil {
		w.Clock = clock.RealClock{}
	}
	w.Log.Info("Starting communication watchdog", "threshold", w.Threshold, "interval", w.Interval)

	ticker := w.Clock.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			w.check(ctx)
		case <-ctx.Done():
			w.Log.Info("Stopping communication watchdog")
			return nil
		}
	}
}

func (w *Watchdog) check(ctx context.Context) {
	if rolled, err := w.Target.ExpireOverdue(ctx); err != nil {
		w.Log.Error(err, "Overdue command rollback not persisted")
	} else if rolled {
		w.Log.Info("Rolled back overdue uncertain command")
	}

	s := w.Target.Snapshot()
	if s.ActivatedAt.IsZero() {
		return
	}

	// Without any response yet the session start is the reference.
	since := s.LastResponseAt
	if since.IsZero() {
		since = s.ActivatedAt
	}

	silent := w.Clock.Since(since)
	w.Log.V(1).Info("Watchdog check", "lastResponseAt", s.LastResponseAt, "silent", silent)
	if silent < w.Threshold || since.Equal(w.reported) {
		return
	}

	w.reported = since
	w.Log.Info("Pod unresponsive, raising refresh-failed alert", "silent", silent.Round(time.Second))
	w.Target.ReportRefreshFailure(fmt.Errorf("no status response for %s", silent.Round(time.Minute)))
}
