// Package manager owns the pod state snapshot of one pod session.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/podstate/internal/pkg/metrics"
	"github.com/autopeer-io/podstate/internal/podstate/codec"
	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/model"
	"github.com/autopeer-io/podstate/internal/podstate/reconcile"
	"github.com/autopeer-io/podstate/internal/podstate/uncertainty"
	"github.com/autopeer-io/podstate/pkg/log"
)

// expireTimeout bounds the rollback triggered by a deadline timer.
const expireTimeout = 30 * time.Second

// Manager serializes every snapshot mutation behind one mutex and publishes
// each result as an immutable value, so readers never wait on persistence.
type Manager struct {
	mu sync.Mutex

	// current always points to a snapshot nobody mutates.
	current atomic.Pointer[model.Snapshot]

	store     core.SnapshotStore
	notifier  core.ChangeNotifier
	dismisser core.AlertDismisser
	poster    core.AlertPoster
	resolver  *uncertainty.Resolver

	clock    clock.WithDelayedExecution
	log      log.Logger
	retry    RetryPolicy
	deadline time.Duration

	// dirty is set while the store lags behind the in-memory snapshot.
	dirty atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithUncertainDeadline sets how long an issued command may stay unconfirmed.
func WithUncertainDeadline(d time.Duration) Option {
	return func(m *Manager) { m.deadline = d }
}

// WithRetryPolicy bounds persistence retries.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) { m.retry = p }
}

// WithAlertPoster enables ReportRefreshFailure.
func WithAlertPoster(p core.AlertPoster) Option {
	return func(m *Manager) { m.poster = p }
}

// New builds a Manager around its collaborators. Call Load before serving.
func New(store core.SnapshotStore, notifier core.ChangeNotifier, dismisser core.AlertDismisser, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		notifier:  notifier,
		dismisser: dismisser,
		clock:     clock.RealClock{},
		log:       log.WithName("manager"),
		retry:     DefaultRetryPolicy(),
		deadline:  3 * time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.resolver = uncertainty.New(m.deadline, m.expire,
		uncertainty.WithClock(m.clock),
		uncertainty.WithLogger(m.log.Logr().WithName("resolver")),
	)

	fresh := model.NewSnapshot(m.clock.Now())
	m.current.Store(&fresh)
	return m
}

// Load replaces the in-memory snapshot with the stored one, or with a fresh
// snapshot when the store is empty or unreadable as a snapshot. A pending
// command whose deadline passed while the process was down is rolled back.
// Reads are retried like writes; when every attempt fails the in-memory
// snapshot is left alone and a *core.StoreError is returned, since starting
// fresh would overwrite a stored pending command.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok, err := m.read(ctx)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	snapshot := model.NewSnapshot(now)
	persistFresh := true

	if ok {
		loaded, version, decodeErr := codec.Decode(data)
		switch {
		case decodeErr != nil:
			metrics.DecodeErrorsTotal.WithLabelValues("store").Inc()
			m.log.Error(decodeErr, "Stored pod state is unreadable, starting a fresh session", "bytes", len(data))
		default:
			if version > codec.CurrentVersion {
				m.log.Warn("Pod state was written by a newer release, unknown fields are dropped",
					"version", version, "supported", codec.CurrentVersion)
			}
			snapshot = loaded
			persistFresh = false
		}
	}

	m.resolver.Cancel()
	m.publishSnapshot(snapshot)
	m.log.Info("Pod state loaded",
		"fresh", persistFresh, "lastResponseAt", snapshot.LastResponseAt, "pending", snapshot.HasPending())

	var warn error
	if persistFresh {
		warn = m.persist(ctx, snapshot)
	}

	if token := snapshot.Uncertainty; token != nil {
		expired, err := m.resolver.Restore(ctx, token)
		if err != nil {
			m.log.Error(err, "Cannot resume uncertain command, rolling it back", "token", token.ID)
			m.resolver.Cancel()
			expired = true
		}
		if expired {
			next, changes := uncertainty.Rollback(snapshot)
			m.log.Warn("Uncertain command expired while offline, rolled back", "token", token.ID, "deadline", token.Deadline)
			warn = m.commit(ctx, next, changes)
		}
	}

	return warn
}

// HandleStatusReport reconciles report into the snapshot, persists and
// publishes the result. It returns the detected changes. A stale report
// yields core.ErrStaleReport and changes nothing. A *core.StoreError
// accompanies an applied report whose persistence failed.
func (m *Manager) HandleStatusReport(ctx context.Context, report model.StatusReport) (model.ChangeSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := reconcile.Reconcile(*m.current.Load(), report)
	if err != nil {
		metrics.ReportsTotal.WithLabelValues("stale").Inc()
		m.log.Warn("Ignoring out-of-order status report", "error", err)
		return nil, err
	}
	metrics.ReportsTotal.WithLabelValues("applied").Inc()

	if res.Outcome != uncertainty.OutcomeNone {
		if err := m.resolver.Settle(ctx, res.Outcome); err != nil && !errors.Is(err, uncertainty.ErrNotIssued) {
			m.log.Error(err, "Failed to settle uncertain command", "outcome", res.Outcome)
		}
		m.log.Info("Uncertain command resolved by status report", "outcome", res.Outcome)
	}

	// A parsed report proves the link works again.
	m.dismisser.Dismiss(core.RefreshFailedAlert)

	if !res.Changes.Empty() {
		m.log.Info("Pod state changed", "changes", res.Changes.Kinds())
	}
	return res.Changes, m.commit(ctx, res.Snapshot, res.Changes)
}

// IssueTempBasal is called immediately before a TBR-changing command is sent.
// The pending command is persisted before returning, so a restart cannot lose
// it. A *core.StoreError is returned together with a valid token when only
// persistence failed.
func (m *Manager) IssueTempBasal(ctx context.Context, cmd model.TempBasalCommand) (*model.UncertaintyToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.current.Load()
	if current.HasPending() {
		return nil, core.ErrCommandPending
	}

	token, err := m.resolver.Issue(ctx, cmd)
	if err != nil {
		return nil, err
	}

	next, changes := uncertainty.Apply(*current, token)
	m.log.Info("Temporary basal command issued",
		"token", token.ID, "kind", cmd.Kind, "rate", cmd.RateUnitsPerHour, "minutes", cmd.DurationMinutes, "deadline", token.Deadline)
	return token, m.commit(ctx, next, changes)
}

// ExpireOverdue rolls back a pending command whose deadline has passed. It
// backs up the deadline timer and reports whether a rollback happened.
func (m *Manager) ExpireOverdue(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.current.Load()
	if !current.HasPending() || !current.Uncertainty.Expired(m.clock.Now()) {
		return false, nil
	}
	return true, m.rollback(ctx, current)
}

// expire is the resolver's deadline callback.
func (m *Manager) expire(tokenID string) {
	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.current.Load()
	if !current.HasPending() || current.Uncertainty.ID != tokenID {
		return
	}
	if err := m.rollback(ctx, current); err != nil {
		m.log.Error(err, "Rollback of expired command not persisted", "token", tokenID)
	}
}

func (m *Manager) rollback(ctx context.Context, current *model.Snapshot) error {
	token := current.Uncertainty
	if err := m.resolver.Settle(ctx, uncertainty.OutcomeRolledBack); err != nil && !errors.Is(err, uncertainty.ErrNotIssued) {
		m.log.Error(err, "Failed to settle expired command", "token", token.ID)
	}

	next, changes := uncertainty.Rollback(*current)
	m.log.Warn("Uncertain command timed out, temporary basal cleared", "token", token.ID, "deadline", token.Deadline)
	return m.commit(ctx, next, changes)
}

// Reset ends the pod session and starts a fresh, empty snapshot.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resolver.Cancel()

	previous := m.current.Load()
	fresh := model.NewSnapshot(m.clock.Now())

	var changes model.ChangeSet
	if previous.TempBasal != nil {
		changes.Add(model.TbrChanged)
	}
	if len(previous.ActiveAlerts) > 0 {
		changes.Add(model.ActiveAlertsChanged)
	}
	if previous.FaultEvent != nil {
		changes.Add(model.FaultEventChanged)
	}

	m.log.Info("Pod session reset", "activatedAt", previous.ActivatedAt)
	return m.commit(ctx, fresh, changes)
}

// ReportRefreshFailure raises the single status-refresh-failed alert.
func (m *Manager) ReportRefreshFailure(cause error) {
	if m.poster == nil {
		return
	}
	msg := "Unable to refresh pod status."
	if cause != nil {
		msg = fmt.Sprintf("Unable to refresh pod status: %v", cause)
	}
	m.poster.Post(core.RefreshFailedAlert, msg)
}

// Snapshot returns a point-in-time copy of the pod state. It never blocks on
// a mutation in progress.
func (m *Manager) Snapshot() model.Snapshot {
	return m.current.Load().Clone()
}

// ResolverState returns the state of the uncertain-command state machine.
func (m *Manager) ResolverState() uncertainty.State {
	return m.resolver.State()
}

// SetUncertainDeadline changes the deadline for commands issued from now on.
func (m *Manager) SetUncertainDeadline(d time.Duration) {
	m.resolver.SetDeadline(d)
}

// InSync reports whether the store holds the latest snapshot.
func (m *Manager) InSync() bool {
	return !m.dirty.Load()
}

// commit publishes next, persists it and then announces changes. The caller
// holds m.mu.
func (m *Manager) commit(ctx context.Context, next model.Snapshot, changes model.ChangeSet) error {
	m.publishSnapshot(next)
	err := m.persist(ctx, next)

	for _, kind := range changes {
		m.notifier.Publish(ctx, kind)
		metrics.ChangesTotal.WithLabelValues(string(kind)).Inc()
	}
	return err
}

func (m *Manager) publishSnapshot(s model.Snapshot) {
	s = s.Clone()
	m.current.Store(&s)

	if !s.LastResponseAt.IsZero() {
		metrics.LastResponseTimestamp.Set(float64(s.LastResponseAt.Unix()))
	}
	if s.HasPending() {
		metrics.PendingCommand.Set(1)
	} else {
		metrics.PendingCommand.Set(0)
	}
}
