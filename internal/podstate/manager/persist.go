package manager

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/autopeer-io/podstate/internal/pkg/metrics"
	"github.com/autopeer-io/podstate/internal/podstate/codec"
	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/model"
)

// RetryPolicy bounds how hard a snapshot write is retried before the manager
// gives up and reports a *core.StoreError.
type RetryPolicy struct {
	// Attempts is the total number of writes tried, at least 1.
	Attempts int
	// InitialInterval is the wait before the second attempt; it doubles after that.
	InitialInterval time.Duration
	// MaxElapsed caps the time spent in one persist call.
	MaxElapsed time.Duration
}

// DefaultRetryPolicy returns three attempts starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialInterval: 100 * time.Millisecond, MaxElapsed: 5 * time.Second}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxElapsedTime = p.MaxElapsed

	attempts := max(p.Attempts, 1)
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// read fetches the stored blob with the same bounded retry as persist.
func (m *Manager) read(ctx context.Context) ([]byte, bool, error) {
	var (
		data     []byte
		ok       bool
		attempts int
	)
	op := func() error {
		attempts++
		var err error
		data, ok, err = m.store.Read(ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		m.log.Warn("Snapshot read failed, retrying", "attempt", attempts, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, m.retry.backOff(ctx), notify); err != nil {
		return nil, false, &core.StoreError{Op: core.StoreOpRead, Attempts: attempts, Err: err}
	}
	return data, ok, nil
}

// persist writes the whole snapshot. Every write carries the complete state,
// so one success after earlier failures brings the store back in sync.
func (m *Manager) persist(ctx context.Context, s model.Snapshot) error {
	data, err := codec.Encode(s)
	if err != nil {
		m.dirty.Store(true)
		return &core.StoreError{Op: core.StoreOpEncode, Err: err}
	}

	start := m.clock.Now()
	attempts := 0
	op := func() error {
		attempts++
		if err := m.store.Write(ctx, data); err != nil {
			metrics.PersistAttemptsTotal.WithLabelValues("error").Inc()
			return err
		}
		metrics.PersistAttemptsTotal.WithLabelValues("ok").Inc()
		return nil
	}
	notify := func(err error, wait time.Duration) {
		m.log.Warn("Snapshot write failed, retrying", "attempt", attempts, "wait", wait, "error", err)
	}

	err = backoff.RetryNotify(op, m.retry.backOff(ctx), notify)
	metrics.PersistLatency.Observe(m.clock.Since(start).Seconds())

	if err != nil {
		m.dirty.Store(true)
		m.log.Error(err, "Snapshot not persisted, keeping in-memory state", "attempts", attempts)
		return &core.StoreError{Op: core.StoreOpWrite, Attempts: attempts, Err: err}
	}

	if m.dirty.Swap(false) {
		m.log.Info("Snapshot store back in sync", "attempts", attempts)
	}
	return nil
}
