package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/podstate/internal/podstate/model"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeTarget struct {
	mu       sync.Mutex
	snapshot model.Snapshot
	failures int
	expiries int
}

func (f *fakeTarget) Snapshot() model.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot.Clone()
}

func (f *fakeTarget) ReportRefreshFailure(error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
}

func (f *fakeTarget) ExpireOverdue(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiries++
	return false, nil
}

func (f *fakeTarget) respond(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot.LastResponseAt = at
}

func (f *fakeTarget) counts() (failures, expiries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures, f.expiries
}

func newWatchdog(target Target, fc *clocktesting.FakeClock) *Watchdog {
	return &Watchdog{
		Target:    target,
		Log:       logr.Discard(),
		Clock:     fc,
		Threshold: 15 * time.Minute,
		Interval:  time.Minute,
	}
}

func TestCheckPostsOncePerOutage(t *testing.T) {
	fc := clocktesting.NewFakeClock(t0)
	target := &fakeTarget{snapshot: model.NewSnapshot(t0)}
	target.respond(t0)
	w := newWatchdog(target, fc)
	ctx := context.Background()

	fc.Step(10 * time.Minute)
	w.check(ctx)
	failures, expiries := target.counts()
	assert.Zero(t, failures)
	assert.Equal(t, 1, expiries)

	fc.Step(10 * time.Minute)
	w.check(ctx)
	w.check(ctx)
	failures, _ = target.counts()
	assert.Equal(t, 1, failures, "one alert per outage")

	// A response ends the outage; the next silence alerts again.
	target.respond(fc.Now())
	fc.Step(16 * time.Minute)
	w.check(ctx)
	failures, _ = target.counts()
	assert.Equal(t, 2, failures)
}

func TestCheckUsesActivationWhenNeverResponded(t *testing.T) {
	fc := clocktesting.NewFakeClock(t0)
	target := &fakeTarget{snapshot: model.NewSnapshot(t0)}
	w := newWatchdog(target, fc)

	fc.Step(15 * time.Minute)
	w.check(context.Background())
	failures, _ := target.counts()
	assert.Equal(t, 1, failures)
}

func TestStartStopsOnCancel(t *testing.T) {
	fc := clocktesting.NewFakeClock(t0)
	target := &fakeTarget{snapshot: model.NewSnapshot(t0)}
	w := newWatchdog(target, fc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	fc.Step(time.Minute)
	require.Eventually(t, func() bool {
		_, expiries := target.counts()
		return expiries == 1
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}
