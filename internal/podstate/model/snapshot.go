package model

import (
	"slices"
	"time"
)

// Snapshot is the authoritative record of pod state for one activation session.
type Snapshot struct {
	TempBasal      *TempBasal        `json:"temporaryBasal,omitempty"`
	ActiveAlerts   AlertSet          `json:"activeAlerts"`
	FaultEvent     *FaultEvent       `json:"faultEvent,omitempty"`
	LastResponseAt time.Time         `json:"lastResponseAt"`
	Uncertainty    *UncertaintyToken `json:"uncertaintyToken,omitempty"`

	// ActivatedAt is when this pod session's snapshot was created.
	ActivatedAt time.Time `json:"activatedAt"`
}

// NewSnapshot returns an empty snapshot for a session starting at now.
func NewSnapshot(now time.Time) Snapshot {
	return Snapshot{
		ActiveAlerts: AlertSet{},
		ActivatedAt:  now,
	}
}

// HasPending reports whether a command outcome is still unknown.
func (s *Snapshot) HasPending() bool {
	return s.Uncertainty != nil
}

// Faulted reports whether a fault is recorded.
func (s *Snapshot) Faulted() bool {
	return s.FaultEvent != nil
}

// Clone returns a deep copy that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.TempBasal = s.TempBasal.Clone()
	c.FaultEvent = s.FaultEvent.Clone()
	c.Uncertainty = s.Uncertainty.Clone()
	c.ActiveAlerts = slices.Clone(s.ActiveAlerts)
	if c.ActiveAlerts == nil {
		c.ActiveAlerts = AlertSet{}
	}
	return c
}
