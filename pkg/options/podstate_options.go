package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PodStateOptions)(nil)

// PodStateOptions tunes reconciliation, uncertain-command resolution and persistence.
type PodStateOptions struct {
	// PodID identifies the pod session in topics and logs.
	PodID string `json:"pod-id" mapstructure:"pod-id"`

	// UncertainDeadline is how long an issued command may stay unconfirmed
	// before it is rolled back.
	UncertainDeadline time.Duration `json:"uncertain-deadline" mapstructure:"uncertain-deadline"`

	// PersistAttempts bounds the number of store writes per mutation.
	PersistAttempts int `json:"persist-attempts" mapstructure:"persist-attempts"`

	// PersistBackoff is the initial wait between store write attempts.
	PersistBackoff time.Duration `json:"persist-backoff" mapstructure:"persist-backoff"`

	// RefreshFailedAfter is the silence after which the refresh-failed alert is raised.
	// Zero disables the watchdog.
	RefreshFailedAfter time.Duration `json:"refresh-failed-after" mapstructure:"refresh-failed-after"`

	// WatchInterval is how often the watchdog checks for silence.
	WatchInterval time.Duration `json:"watch-interval" mapstructure:"watch-interval"`

	// EventBuffer is the per-subscriber capacity of the in-process change bus.
	EventBuffer int `json:"event-buffer" mapstructure:"event-buffer"`
}

func NewPodStateOptions() *PodStateOptions {
	return &PodStateOptions{
		PodID:              "default",
		UncertainDeadline:  3 * time.Minute,
		PersistAttempts:    3,
		PersistBackoff:     100 * time.Millisecond,
		RefreshFailedAfter: 15 * time.Minute,
		WatchInterval:      time.Minute,
		EventBuffer:        64,
	}
}

func (o *PodStateOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.PodID == "" {
		errs = append(errs, errors.New("podstate.pod-id is required"))
	}
	if o.UncertainDeadline <= 0 {
		errs = append(errs, errors.New("podstate.uncertain-deadline must be positive"))
	}
	if o.PersistAttempts < 1 {
		errs = append(errs, errors.New("podstate.persist-attempts must be at least 1"))
	}
	if o.PersistBackoff < 0 {
		errs = append(errs, errors.New("podstate.persist-backoff must not be negative"))
	}
	if o.RefreshFailedAfter < 0 {
		errs = append(errs, errors.New("podstate.refresh-failed-after must not be negative"))
	}
	if o.RefreshFailedAfter > 0 && o.WatchInterval <= 0 {
		errs = append(errs, errors.New("podstate.watch-interval must be positive when the watchdog is enabled"))
	}
	if o.EventBuffer < 1 {
		errs = append(errs, errors.New("podstate.event-buffer must be at least 1"))
	}
	return errs
}

func (o *PodStateOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.PodID, "podstate.pod-id", o.PodID, "Identifier of the pod session served by this agent.")
	fs.DurationVar(&o.UncertainDeadline, "podstate.uncertain-deadline", o.UncertainDeadline,
		"How long an unacknowledged temporary basal command may stay unconfirmed before it is rolled back.")
	fs.IntVar(&o.PersistAttempts, "podstate.persist-attempts", o.PersistAttempts, "Maximum snapshot store writes per mutation.")
	fs.DurationVar(&o.PersistBackoff, "podstate.persist-backoff", o.PersistBackoff, "Initial wait between snapshot store write attempts.")
	fs.DurationVar(&o.RefreshFailedAfter, "podstate.refresh-failed-after", o.RefreshFailedAfter,
		"Raise the status refresh failed alert after this long without a status report (0 disables).")
	fs.DurationVar(&o.WatchInterval, "podstate.watch-interval", o.WatchInterval, "How often the communication watchdog runs.")
	fs.IntVar(&o.EventBuffer, "podstate.event-buffer", o.EventBuffer, "Per-subscriber buffer of the in-process change bus.")
}
