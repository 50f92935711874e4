// Package uncertainty tracks temporary basal commands that were sent without
// a confirmed outcome and resolves them from later status reports or by timeout.
package uncertainty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/podstate/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/podstate/internal/pkg/util/fsm"
	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/model"
)

// State is a resolver state.
type State string

const (
	StateIdle       State = "idle"
	StateIssued     State = "issued"
	StateConfirmed  State = "confirmed"
	StateRolledBack State = "rolled_back"
)

const (
	EventIssue    = "issue"
	EventConfirm  = "confirm"
	EventRollback = "rollback"
	EventFinalize = "finalize"
)

// ErrNotIssued is returned by Settle when no command is being tracked.
var ErrNotIssued = errors.New("no uncertain command is being tracked")

// ExpireFunc is called, on its own goroutine, when the deadline of the token
// with the given ID passes. The callee must check the token is still current.
type ExpireFunc func(tokenID string)

// Resolver is the state machine idle -> issued -> confirmed|rolled_back -> idle
// for one pod session's temporary basal commands.
type Resolver struct {
	mu       sync.Mutex
	fsm      *fsm.FSM
	clock    clock.WithDelayedExecution
	log      logr.Logger
	newID    func() string
	deadline time.Duration
	onExpire ExpireFunc

	token *model.UncertaintyToken
	timer clock.Timer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// WithIDGenerator replaces the token ID source.
func WithIDGenerator(fn func() string) Option {
	return func(r *Resolver) { r.newID = fn }
}

// New returns an idle Resolver. deadline is how long an issued command may
// stay unconfirmed; onExpire may be nil.
func New(deadline time.Duration, onExpire ExpireFunc, opts ...Option) *Resolver {
	r := &Resolver{
		clock:    clock.RealClock{},
		log:      logr.Discard(),
		newID:    uuid.NewString,
		deadline: deadline,
		onExpire: onExpire,
	}
	for _, opt := range opts {
		opt(r)
	}

	idle, issued := string(StateIdle), string(StateIssued)
	confirmed, rolledBack := string(StateConfirmed), string(StateRolledBack)

	events := fsm.Events{
		{Name: EventIssue, Src: []string{idle}, Dst: issued},
		{Name: EventConfirm, Src: []string{issued}, Dst: confirmed},
		{Name: EventRollback, Src: []string{issued}, Dst: rolledBack},
		{Name: EventFinalize, Src: []string{confirmed, rolledBack}, Dst: idle},
	}

	callbacks := fsm.Callbacks{
		"before_" + EventIssue: fsmutil.WrapEvent(r.guardIssue),

		"enter_" + issued:     fsmutil.WrapEvent(r.actionEnterIssued),
		"enter_" + confirmed:  fsmutil.WrapEvent(r.actionEnterResolved),
		"enter_" + rolledBack: fsmutil.WrapEvent(r.actionEnterResolved),
		"enter_" + idle:       fsmutil.WrapEvent(r.actionEnterIdle),
	}

	r.fsm = fsm.NewFSM(idle, events, callbacks)
	return r
}

// Issue starts tracking cmd and arms the deadline timer. It fails with
// core.ErrCommandPending while another command is unresolved.
func (r *Resolver) Issue(ctx context.Context, cmd model.TempBasalCommand) (*model.UncertaintyToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	token := &model.UncertaintyToken{
		ID:       r.newID(),
		Command:  cmd,
		IssuedAt: now,
		Deadline: now.Add(r.deadline),
	}

	if err := r.fire(ctx, EventIssue, token, true); err != nil {
		return nil, err
	}
	metrics.UncertainCommandsTotal.WithLabelValues("issued").Inc()
	return token.Clone(), nil
}

// Restore resumes tracking a token loaded from storage. When its deadline has
// already passed the resolver rolls it back at once and Restore returns true;
// the caller must then apply the rollback to the snapshot.
func (r *Resolver) Restore(ctx context.Context, token *model.UncertaintyToken) (expired bool, err error) {
	if token == nil {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != nil && r.token.ID == token.ID {
		return false, nil
	}

	expired = token.Expired(r.clock.Now())
	if err := r.fire(ctx, EventIssue, token.Clone(), !expired); err != nil {
		return true, err
	}
	if !expired {
		return false, nil
	}

	r.log.Info("Uncertain command deadline passed while offline", "token", token.ID, "deadline", token.Deadline)
	return true, r.settle(ctx, OutcomeRolledBack)
}

// Settle records how the tracked command was resolved and returns the
// resolver to idle. The deadline timer is stopped.
func (r *Resolver) Settle(ctx context.Context, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settle(ctx, outcome)
}

func (r *Resolver) settle(ctx context.Context, outcome Outcome) error {
	if State(r.fsm.Current()) != StateIssued {
		return ErrNotIssued
	}

	event := EventConfirm
	switch outcome {
	case OutcomeConfirmed:
	case OutcomeRolledBack:
		event = EventRollback
	default:
		return fmt.Errorf("cannot settle with outcome %q", outcome)
	}

	if err := r.fire(ctx, event); err != nil {
		return err
	}
	return r.fire(ctx, EventFinalize)
}

// Cancel drops any tracked command without resolving it. Used when the pod
// session ends.
func (r *Resolver) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopTimer()
	r.token = nil
	r.fsm.SetState(string(StateIdle))
	metrics.PendingCommand.Set(0)
}

// State returns the current state.
func (r *Resolver) State() State {
	return State(r.fsm.Current())
}

// Pending returns a copy of the tracked token, or nil.
func (r *Resolver) Pending() *model.UncertaintyToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token.Clone()
}

// Deadline returns the timeout applied to newly issued commands.
func (r *Resolver) Deadline() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deadline
}

// SetDeadline changes the timeout for commands issued from now on.
func (r *Resolver) SetDeadline(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadline = d
}

func (r *Resolver) fire(ctx context.Context, event string, args ...any) error {
	err := fsmutil.Fire(ctx, r.fsm, event, args...)
	if err == nil {
		return nil
	}

	if fsmutil.IsInvalidEvent(err) && event == EventIssue {
		return core.ErrCommandPending
	}
	var canceled fsm.CanceledError
	if errors.As(err, &canceled) && canceled.Err != nil {
		return canceled.Err
	}
	return fmt.Errorf("uncertainty %s: %w", event, err)
}

// guardIssue rejects commands the pod cannot run.
func (r *Resolver) guardIssue(_ context.Context, e *fsm.Event) error {
	token := e.Args[0].(*model.UncertaintyToken)
	if err := token.Command.Validate(); err != nil {
		e.Cancel(fmt.Errorf("%w: %v", core.ErrInvalidCommand, err))
	}
	return nil
}

func (r *Resolver) actionEnterIssued(_ context.Context, e *fsm.Event) error {
	token := e.Args[0].(*model.UncertaintyToken)
	arm := e.Args[1].(bool)

	r.token = token
	metrics.PendingCommand.Set(1)

	if arm {
		id := token.ID
		wait := token.Deadline.Sub(r.clock.Now())
		r.timer = r.clock.AfterFunc(wait, func() {
			if r.onExpire != nil {
				go r.onExpire(id)
			}
		})
	}

	r.log.V(1).Info("Tracking uncertain command",
		"token", token.ID, "kind", token.Command.Kind, "deadline", token.Deadline, "armed", arm)
	return nil
}

func (r *Resolver) actionEnterResolved(_ context.Context, e *fsm.Event) error {
	r.stopTimer()

	outcome := OutcomeConfirmed
	if e.Dst == string(StateRolledBack) {
		outcome = OutcomeRolledBack
	}
	metrics.UncertainCommandsTotal.WithLabelValues(string(outcome)).Inc()

	if r.token != nil {
		r.log.Info("Uncertain command resolved", "token", r.token.ID, "outcome", outcome,
			"pending", r.clock.Since(r.token.IssuedAt))
	}
	return nil
}

func (r *Resolver) actionEnterIdle(_ context.Context, _ *fsm.Event) error {
	r.token = nil
	metrics.PendingCommand.Set(0)
	return nil
}

func (r *Resolver) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
