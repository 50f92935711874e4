package manager

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/podstate/internal/podstate/codec"
	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/model"
	"github.com/autopeer-io/podstate/internal/podstate/uncertainty"
	"github.com/autopeer-io/podstate/pkg/log"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type memStore struct {
	mu       sync.Mutex
	data     []byte
	writes   int
	failNext int

	reads     int
	failReads int
}

func (s *memStore) Read(_ context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.failReads > 0 {
		s.failReads--
		return nil, false, errors.New("connection reset")
	}
	if s.data == nil {
		return nil, false, nil
	}
	return append([]byte(nil), s.data...), true, nil
}

func (s *memStore) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("disk full")
	}
	s.writes++
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *memStore) snapshot(t *testing.T) model.Snapshot {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotNil(t, s.data, "nothing persisted")
	snap, _, err := codec.Decode(s.data)
	require.NoError(t, err)
	return snap
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type recorder struct {
	mu         sync.Mutex
	events     []model.ChangeKind
	dismissals []string
	posts      map[string]string
}

func (r *recorder) Publish(_ context.Context, kind model.ChangeKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func (r *recorder) Dismiss(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dismissals = append(r.dismissals, id)
}

func (r *recorder) Post(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.posts == nil {
		r.posts = map[string]string{}
	}
	r.posts[id] = message
}

func (r *recorder) published() []model.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChangeKind(nil), r.events...)
}

func (r *recorder) dismissed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dismissals...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.dismissals = nil
}

type fixture struct {
	m     *Manager
	store *memStore
	rec   *recorder
	clock *clocktesting.FakeClock
}

func newFixture(t *testing.T, store *memStore, now time.Time) *fixture {
	t.Helper()
	fc := clocktesting.NewFakeClock(now)
	rec := &recorder{}
	m := New(store, rec, rec,
		WithClock(fc),
		WithLogger(log.NewNopLogger()),
		WithUncertainDeadline(3*time.Minute),
		WithRetryPolicy(RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxElapsed: time.Second}),
		WithAlertPoster(rec),
	)
	require.NoError(t, m.Load(context.Background()))
	rec.reset()
	return &fixture{m: m, store: store, rec: rec, clock: fc}
}

func tbr(rate float64, minutes int, start time.Time) *model.TempBasal {
	return &model.TempBasal{RateUnitsPerHour: rate, DurationMinutes: minutes, StartTime: start}
}

func TestLoadEmptyStoreStartsFreshSession(t *testing.T) {
	store := &memStore{}
	f := newFixture(t, store, t0)

	s := f.m.Snapshot()
	assert.Nil(t, s.TempBasal)
	assert.Empty(t, s.ActiveAlerts)
	assert.Equal(t, t0, s.ActivatedAt)
	assert.Equal(t, 1, store.writeCount(), "fresh snapshot is persisted")
	assert.True(t, f.m.InSync())
}

func TestLoadUnreadableBlobStartsFreshSession(t *testing.T) {
	store := &memStore{data: []byte("{not json")}
	f := newFixture(t, store, t0)

	assert.Equal(t, t0, f.m.Snapshot().ActivatedAt)
	assert.Equal(t, t0, store.snapshot(t).ActivatedAt)
}

func TestHandleStatusReportPublishesChanges(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)
	ctx := context.Background()

	report := model.StatusReport{
		Timestamp:    t0.Add(time.Minute),
		TempBasal:    tbr(1.2, 30, t0),
		ActiveAlerts: model.NewAlertSet("low_reservoir"),
	}
	changes, err := f.m.HandleStatusReport(ctx, report)
	require.NoError(t, err)
	assert.ElementsMatch(t, model.ChangeSet{model.TbrChanged, model.ActiveAlertsChanged}, changes)
	assert.ElementsMatch(t, []model.ChangeKind{model.TbrChanged, model.ActiveAlertsChanged}, f.rec.published())
	assert.Equal(t, []string{core.RefreshFailedAlert}, f.rec.dismissed())

	s := f.m.Snapshot()
	require.NotNil(t, s.TempBasal)
	assert.True(t, s.TempBasal.Confirmed)
	assert.Equal(t, report.Timestamp, s.LastResponseAt)

	persisted := f.store.snapshot(t)
	assert.True(t, persisted.TempBasal.Equal(s.TempBasal))
	assert.Equal(t, s.LastResponseAt, persisted.LastResponseAt)
}

func TestIdenticalReportPublishesNothingButDismisses(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)
	ctx := context.Background()

	report := model.StatusReport{Timestamp: t0.Add(time.Minute), TempBasal: tbr(1, 60, t0)}
	_, err := f.m.HandleStatusReport(ctx, report)
	require.NoError(t, err)
	f.rec.reset()

	report.Timestamp = report.Timestamp.Add(time.Minute)
	changes, err := f.m.HandleStatusReport(ctx, report)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Empty(t, f.rec.published())
	assert.Equal(t, []string{core.RefreshFailedAlert}, f.rec.dismissed())
}

func TestStaleReportHasNoSideEffects(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)
	ctx := context.Background()

	_, err := f.m.HandleStatusReport(ctx, model.StatusReport{Timestamp: t0.Add(2 * time.Minute), TempBasal: tbr(1, 60, t0)})
	require.NoError(t, err)
	before := f.m.Snapshot()
	writes := f.store.writeCount()
	f.rec.reset()

	changes, err := f.m.HandleStatusReport(ctx, model.StatusReport{Timestamp: t0.Add(time.Minute)})
	assert.ErrorIs(t, err, core.ErrStaleReport)
	assert.Nil(t, changes)
	assert.Equal(t, before, f.m.Snapshot())
	assert.Equal(t, writes, f.store.writeCount())
	assert.Empty(t, f.rec.published())
	assert.Empty(t, f.rec.dismissed())
}

func TestIssuedCommandConfirmedByReport(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)
	ctx := context.Background()

	token, err := f.m.IssueTempBasal(ctx, model.TempBasalCommand{Kind: model.CommandSetTempBasal, RateUnitsPerHour: 0.8, DurationMinutes: 30})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(3*time.Minute), token.Deadline)

	persisted := f.store.snapshot(t)
	require.NotNil(t, persisted.Uncertainty, "pending command must be durable before sending")
	assert.Equal(t, token.ID, persisted.Uncertainty.ID)
	require.NotNil(t, persisted.TempBasal)
	assert.False(t, persisted.TempBasal.Confirmed)

	changes, err := f.m.HandleStatusReport(ctx, model.StatusReport{
		Timestamp: t0.Add(10 * time.Second),
		TempBasal: tbr(0.8, 30, t0.Add(2*time.Second)),
	})
	require.NoError(t, err)
	assert.True(t, changes.Has(model.UncertainCommandRecovered))

	s := f.m.Snapshot()
	assert.Nil(t, s.Uncertainty)
	require.NotNil(t, s.TempBasal)
	assert.True(t, s.TempBasal.Confirmed)
	assert.Equal(t, uncertainty.StateIdle, f.m.ResolverState())
	assert.False(t, f.clock.HasWaiters(), "deadline timer must be stopped")
}

func TestIssuedCommandContradictedByReport(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)
	ctx := context.Background()

	_, err := f.m.IssueTempBasal(ctx, model.TempBasalCommand{Kind: model.CommandSetTempBasal, RateUnitsPerHour: 0.8, DurationMinutes: 30})
	require.NoError(t, err)

	changes, err := f.m.HandleStatusReport(ctx, model.StatusReport{Timestamp: t0.Add(10 * time.Second)})
	require.NoError(t, err)
	assert.ElementsMatch(t, model.ChangeSet{model.TbrChanged, model.UncertainCommandRecovered}, changes)

	s := f.m.Snapshot()
	assert.Nil(t, s.TempBasal)
	assert.Nil(t, s.Uncertainty)
}

func TestSecondIssueWhilePendingRejected(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)
	ctx := context.Background()
	cmd := model.TempBasalCommand{Kind: model.CommandSetTempBasal, RateUnitsPerHour: 1, DurationMinutes: 30}

	first, err := f.m.IssueTempBasal(ctx, cmd)
	require.NoError(t, err)

	_, err = f.m.IssueTempBasal(ctx, cmd)
	assert.ErrorIs(t, err, core.ErrCommandPending)
	assert.Equal(t, first.ID, f.m.Snapshot().Uncertainty.ID)
}

func TestInvalidCommandRejected(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)

	_, err := f.m.IssueTempBasal(context.Background(), model.TempBasalCommand{Kind: model.CommandSetTempBasal, RateUnitsPerHour: 1, DurationMinutes: 0})
	assert.ErrorIs(t, err, core.ErrInvalidCommand)
	assert.Nil(t, f.m.Snapshot().Uncertainty)
}

func TestDeadlineRollsBackCommand(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)

	_, err := f.m.IssueTempBasal(context.Background(), model.TempBasalCommand{Kind: model.CommandSetTempBasal, RateUnitsPerHour: 2, DurationMinutes: 60})
	require.NoError(t, err)
	f.rec.reset()

	f.clock.Step(3 * time.Minute)

	require.Eventually(t, func() bool {
		return f.m.Snapshot().Uncertainty == nil
	}, 2*time.Second, 5*time.Millisecond)

	s := f.m.Snapshot()
	assert.Nil(t, s.TempBasal, "rollback clears the TBR")
	assert.ElementsMatch(t, []model.ChangeKind{model.TbrChanged, model.UncertainCommandRecovered}, f.rec.published())
	assert.Nil(t, f.store.snapshot(t).Uncertainty)
	assert.Equal(t, uncertainty.StateIdle, f.m.ResolverState())
}

func TestExpireOverdueIgnoresLiveToken(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)
	ctx := context.Background()

	rolled, err := f.m.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.False(t, rolled)

	_, err = f.m.IssueTempBasal(ctx, model.TempBasalCommand{Kind: model.CommandCancelTempBasal})
	require.NoError(t, err)

	rolled, err = f.m.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.False(t, rolled)
	assert.NotNil(t, f.m.Snapshot().Uncertainty)
}

func TestRestartWithExpiredTokenRollsBackOnLoad(t *testing.T) {
	persisted := model.NewSnapshot(t0)
	persisted.LastResponseAt = t0
	persisted.TempBasal = tbr(1.5, 30, t0)
	persisted.Uncertainty = &model.UncertaintyToken{
		ID:       "before-restart",
		Command:  model.TempBasalCommand{Kind: model.CommandSetTempBasal, RateUnitsPerHour: 1.5, DurationMinutes: 30},
		IssuedAt: t0,
		Deadline: t0.Add(3 * time.Minute),
	}
	data, err := codec.Encode(persisted)
	require.NoError(t, err)

	store := &memStore{data: data}
	fc := clocktesting.NewFakeClock(t0.Add(10 * time.Minute))
	rec := &recorder{}
	m := New(store, rec, rec, WithClock(fc), WithLogger(log.NewNopLogger()))

	require.NoError(t, m.Load(context.Background()))

	s := m.Snapshot()
	assert.Nil(t, s.Uncertainty)
	assert.Nil(t, s.TempBasal)
	assert.ElementsMatch(t, []model.ChangeKind{model.TbrChanged, model.UncertainCommandRecovered}, rec.published())
	assert.Nil(t, store.snapshot(t).Uncertainty)
	assert.False(t, fc.HasWaiters())
}

func TestLoadRetriesFailedRead(t *testing.T) {
	persisted := model.NewSnapshot(t0.Add(-time.Hour))
	persisted.LastResponseAt = t0
	persisted.TempBasal = tbr(0.5, 60, t0)
	data, err := codec.Encode(persisted)
	require.NoError(t, err)

	store := &memStore{data: data, failReads: 1}
	f := newFixture(t, store, t0.Add(time.Minute))

	assert.Equal(t, 2, store.reads)
	assert.Equal(t, t0, f.m.Snapshot().LastResponseAt)
	require.NotNil(t, f.m.Snapshot().TempBasal)
	assert.Equal(t, 0, store.writeCount(), "a loaded snapshot is not rewritten")
}

func TestLoadGivesUpAfterBoundedReads(t *testing.T) {
	persisted := model.NewSnapshot(t0)
	persisted.LastResponseAt = t0
	data, err := codec.Encode(persisted)
	require.NoError(t, err)

	store := &memStore{data: data, failReads: 10}
	fc := clocktesting.NewFakeClock(t0.Add(time.Hour))
	rec := &recorder{}
	m := New(store, rec, rec,
		WithClock(fc),
		WithLogger(log.NewNopLogger()),
		WithRetryPolicy(RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxElapsed: time.Second}),
	)

	err = m.Load(context.Background())
	var se *core.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, core.StoreOpRead, se.Op)
	assert.Equal(t, 3, se.Attempts)
	assert.False(t, core.IsWarning(err))

	assert.Equal(t, 3, store.reads)
	assert.Equal(t, 0, store.writeCount(), "the stored snapshot must not be replaced by a fresh one")
	assert.Empty(t, rec.published())
}

func TestRestartWithLiveTokenKeepsWaiting(t *testing.T) {
	persisted := model.NewSnapshot(t0)
	persisted.Uncertainty = &model.UncertaintyToken{
		ID:       "live",
		Command:  model.TempBasalCommand{Kind: model.CommandCancelTempBasal},
		IssuedAt: t0,
		Deadline: t0.Add(3 * time.Minute),
	}
	data, err := codec.Encode(persisted)
	require.NoError(t, err)

	f := newFixture(t, &memStore{data: data}, t0.Add(time.Minute))
	require.NotNil(t, f.m.Snapshot().Uncertainty)
	assert.Equal(t, uncertainty.StateIssued, f.m.ResolverState())

	f.clock.Step(2 * time.Minute)
	require.Eventually(t, func() bool {
		return f.m.Snapshot().Uncertainty == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPersistenceFailureKeepsMemoryAuthoritative(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)
	ctx := context.Background()

	f.store.mu.Lock()
	f.store.failNext = 3
	f.store.mu.Unlock()

	report := model.StatusReport{Timestamp: t0.Add(time.Minute), TempBasal: tbr(1, 30, t0)}
	changes, err := f.m.HandleStatusReport(ctx, report)
	require.Error(t, err)
	assert.True(t, core.IsWarning(err))

	var se *core.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Attempts)

	assert.True(t, changes.Has(model.TbrChanged))
	assert.NotNil(t, f.m.Snapshot().TempBasal)
	assert.False(t, f.m.InSync())
	assert.Nil(t, f.store.snapshot(t).TempBasal, "store still holds the old snapshot")

	report.Timestamp = report.Timestamp.Add(time.Minute)
	_, err = f.m.HandleStatusReport(ctx, report)
	require.NoError(t, err)
	assert.True(t, f.m.InSync())
	assert.NotNil(t, f.store.snapshot(t).TempBasal)
}

func TestPersistenceRecoversWithinRetries(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)

	f.store.mu.Lock()
	f.store.failNext = 2
	f.store.mu.Unlock()

	_, err := f.m.HandleStatusReport(context.Background(), model.StatusReport{Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.True(t, f.m.InSync())
}

func TestResetStartsNewSession(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)
	ctx := context.Background()

	_, err := f.m.HandleStatusReport(ctx, model.StatusReport{
		Timestamp:    t0.Add(time.Minute),
		TempBasal:    tbr(1, 30, t0),
		ActiveAlerts: model.NewAlertSet("expiring"),
		Fault:        &model.FaultEvent{Code: 0x31, OccurredAt: t0},
	})
	require.NoError(t, err)
	_, err = f.m.IssueTempBasal(ctx, model.TempBasalCommand{Kind: model.CommandCancelTempBasal})
	require.NoError(t, err)
	f.rec.reset()

	f.clock.Step(time.Minute)
	require.NoError(t, f.m.Reset(ctx))

	s := f.m.Snapshot()
	assert.Equal(t, model.NewSnapshot(t0.Add(time.Minute)), s)
	assert.ElementsMatch(t, []model.ChangeKind{model.TbrChanged, model.ActiveAlertsChanged, model.FaultEventChanged}, f.rec.published())
	assert.Equal(t, uncertainty.StateIdle, f.m.ResolverState())
}

func TestReportRefreshFailurePostsAlert(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)

	f.m.ReportRefreshFailure(errors.New("no response"))

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	assert.Contains(t, f.rec.posts[core.RefreshFailedAlert], "no response")
}

func TestSnapshotIsIsolatedFromCaller(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)
	_, err := f.m.HandleStatusReport(context.Background(), model.StatusReport{
		Timestamp:    t0.Add(time.Minute),
		TempBasal:    tbr(1, 30, t0),
		ActiveAlerts: model.NewAlertSet("a"),
	})
	require.NoError(t, err)

	s := f.m.Snapshot()
	s.TempBasal.RateUnitsPerHour = 9
	s.ActiveAlerts[0] = "mutated"

	again := f.m.Snapshot()
	assert.Equal(t, 1.0, again.TempBasal.RateUnitsPerHour)
	assert.Equal(t, model.AlertID("a"), again.ActiveAlerts[0])
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	f := newFixture(t, &memStore{}, t0)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := f.m.Snapshot()
				if s.TempBasal != nil {
					// Reports below always pair the rate with its duration.
					assert.Equal(t, int(math.Round(s.TempBasal.RateUnitsPerHour*10)), s.TempBasal.DurationMinutes)
				}
			}
		}()
	}

	for i := 1; i <= 50; i++ {
		_, err := f.m.HandleStatusReport(ctx, model.StatusReport{
			Timestamp: t0.Add(time.Duration(i) * time.Second),
			TempBasal: tbr(float64(i)/10, i, t0),
		})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}
