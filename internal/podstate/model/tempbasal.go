package model

import (
	"math"
	"time"
)

// RateTolerance is the largest rate difference, in U/h, still treated as equal.
// Pod rates are programmed in 0.05 U/h steps.
const RateTolerance = 0.001

const (
	MaxTempBasalRate            = 30.0
	MaxTempBasalDurationMinutes = 12 * 60
)

// TempBasal is a temporary basal rate as known to the agent.
type TempBasal struct {
	RateUnitsPerHour float64   `json:"rateUnitsPerHour"`
	DurationMinutes  int       `json:"durationMinutes"`
	StartTime        time.Time `json:"startTime"`

	// Confirmed is false while the command that produced this TBR is unacknowledged.
	Confirmed bool `json:"confirmed"`
}

// Duration returns the programmed length of the TBR.
func (t *TempBasal) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// End returns the time the TBR runs out.
func (t *TempBasal) End() time.Time {
	return t.StartTime.Add(t.Duration())
}

// ActiveAt reports whether the TBR is still running at now.
func (t *TempBasal) ActiveAt(now time.Time) bool {
	return !now.Before(t.StartTime) && now.Before(t.End())
}

// Equal compares two optional TBRs field by field, including Confirmed.
func (t *TempBasal) Equal(o *TempBasal) bool {
	if t == nil || o == nil {
		return t == nil && o == nil
	}
	return RatesEqual(t.RateUnitsPerHour, o.RateUnitsPerHour) &&
		t.DurationMinutes == o.DurationMinutes &&
		t.StartTime.Equal(o.StartTime) &&
		t.Confirmed == o.Confirmed
}

// Clone returns a copy of t, or nil.
func (t *TempBasal) Clone() *TempBasal {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// RatesEqual compares two basal rates within RateTolerance.
func RatesEqual(a, b float64) bool {
	return math.Abs(a-b) < RateTolerance
}
