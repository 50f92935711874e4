package model

import (
	"encoding/json"
	"slices"
)

// AlertID identifies an alert raised by the pod, e.g. "lowReservoir" or "slot3".
type AlertID string

// AlertSet is a set of alert identifiers. Order and duplicates carry no meaning;
// NewAlertSet and JSON decoding keep it sorted and unique.
type AlertSet []AlertID

// NewAlertSet builds a normalized set from ids.
func NewAlertSet(ids ...AlertID) AlertSet {
	s := make(AlertSet, len(ids))
	copy(s, ids)
	return s.normalize()
}

func (s AlertSet) normalize() AlertSet {
	if len(s) == 0 {
		return AlertSet{}
	}
	out := slices.Clone(s)
	slices.Sort(out)
	return slices.Compact(out)
}

// Equal reports set equality, ignoring order and duplicates.
func (s AlertSet) Equal(o AlertSet) bool {
	return slices.Equal(s.normalize(), o.normalize())
}

// Contains reports whether id is in the set.
func (s AlertSet) Contains(id AlertID) bool {
	return slices.Contains(s, id)
}

// Sorted returns a sorted, duplicate-free copy.
func (s AlertSet) Sorted() AlertSet {
	return s.normalize()
}

func (s *AlertSet) UnmarshalJSON(data []byte) error {
	var ids []AlertID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = AlertSet(ids).normalize()
	return nil
}
