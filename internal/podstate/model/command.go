package model

import (
	"fmt"
	"time"
)

// CommandKind is the kind of a temporary basal command.
type CommandKind string

const (
	CommandSetTempBasal    CommandKind = "SetTempBasal"
	CommandCancelTempBasal CommandKind = "CancelTempBasal"
)

// TempBasalCommand is a TBR-changing command about to be sent to the pod.
type TempBasalCommand struct {
	Kind             CommandKind `json:"kind"`
	RateUnitsPerHour float64     `json:"rateUnitsPerHour,omitempty"`
	DurationMinutes  int         `json:"durationMinutes,omitempty"`
}

// Validate checks the command against the pod's programmable range.
func (c TempBasalCommand) Validate() error {
	switch c.Kind {
	case CommandSetTempBasal:
		if c.RateUnitsPerHour < 0 || c.RateUnitsPerHour > MaxTempBasalRate {
			return fmt.Errorf("rate %.2f U/h outside [0, %.0f]", c.RateUnitsPerHour, MaxTempBasalRate)
		}
		if c.DurationMinutes <= 0 || c.DurationMinutes > MaxTempBasalDurationMinutes {
			return fmt.Errorf("duration %d min outside (0, %d]", c.DurationMinutes, MaxTempBasalDurationMinutes)
		}
	case CommandCancelTempBasal:
		if c.RateUnitsPerHour != 0 || c.DurationMinutes != 0 {
			return fmt.Errorf("cancel command must not carry a rate or duration")
		}
	default:
		return fmt.Errorf("unknown command kind %q", c.Kind)
	}
	return nil
}

// Expected returns the TBR the pod should report once the command took effect.
// Cancel commands expect no TBR.
func (c TempBasalCommand) Expected(start time.Time) *TempBasal {
	if c.Kind != CommandSetTempBasal {
		return nil
	}
	return &TempBasal{
		RateUnitsPerHour: c.RateUnitsPerHour,
		DurationMinutes:  c.DurationMinutes,
		StartTime:        start,
	}
}

// UncertaintyToken marks a command whose acknowledgement has not been received yet.
type UncertaintyToken struct {
	ID       string           `json:"id"`
	Command  TempBasalCommand `json:"command"`
	IssuedAt time.Time        `json:"issuedAt"`
	Deadline time.Time        `json:"deadline"`
}

// Expired reports whether the deadline has been reached at now.
func (u *UncertaintyToken) Expired(now time.Time) bool {
	return !now.Before(u.Deadline)
}

// Clone returns a copy of u, or nil.
func (u *UncertaintyToken) Clone() *UncertaintyToken {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
