package model

import (
	"errors"
	"fmt"
	"time"
)

// StatusReport is a decoded, authenticated status response from the pod.
type StatusReport struct {
	Timestamp time.Time `json:"timestamp"`

	// TempBasal is the TBR running on the pod; nil means none.
	TempBasal *TempBasal `json:"temporaryBasal,omitempty"`

	ActiveAlerts AlertSet `json:"activeAlerts"`

	// Fault, when set, is the fault the pod currently reports.
	Fault *FaultEvent `json:"faultEvent,omitempty"`

	// FaultCleared is the explicit fault-cleared status. Without it a nil
	// Fault leaves any recorded fault in place.
	FaultCleared bool `json:"faultCleared,omitempty"`
}

// Validate rejects reports that cannot be reconciled.
func (r StatusReport) Validate() error {
	if r.Timestamp.IsZero() {
		return errors.New("status report has no timestamp")
	}
	if r.Fault != nil && r.FaultCleared {
		return errors.New("status report both raises and clears a fault")
	}
	if tbr := r.TempBasal; tbr != nil {
		if tbr.RateUnitsPerHour < 0 || tbr.RateUnitsPerHour > MaxTempBasalRate {
			return fmt.Errorf("reported rate %.2f U/h out of range", tbr.RateUnitsPerHour)
		}
		if tbr.DurationMinutes <= 0 {
			return fmt.Errorf("reported TBR duration %d min must be positive", tbr.DurationMinutes)
		}
	}
	return nil
}
