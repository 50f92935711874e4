package model

import "time"

// FaultEvent is a pod fault. A faulted pod stops delivering insulin.
type FaultEvent struct {
	Code       uint16    `json:"code"`
	OccurredAt time.Time `json:"occurredAt"`
}

// SameFault reports whether two optional faults have the same presence and code.
func (f *FaultEvent) SameFault(o *FaultEvent) bool {
	if f == nil || o == nil {
		return f == nil && o == nil
	}
	return f.Code == o.Code
}

// Clone returns a copy of f, or nil.
func (f *FaultEvent) Clone() *FaultEvent {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}
