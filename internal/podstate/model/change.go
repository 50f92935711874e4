package model

import "slices"

// ChangeKind is a category of observed state difference.
type ChangeKind string

const (
	TbrChanged                ChangeKind = "TbrChanged"
	ActiveAlertsChanged       ChangeKind = "ActiveAlertsChanged"
	FaultEventChanged         ChangeKind = "FaultEventChanged"
	UncertainCommandRecovered ChangeKind = "UncertainCommandRecovered"
)

// AllChangeKinds lists every kind in a stable order.
var AllChangeKinds = []ChangeKind{TbrChanged, ActiveAlertsChanged, FaultEventChanged, UncertainCommandRecovered}

// ChangeSet holds the categories detected by one state transition, each at most once.
// Subscribers must not rely on the order.
type ChangeSet []ChangeKind

// Add appends k unless it is already present.
func (c *ChangeSet) Add(k ChangeKind) {
	if !c.Has(k) {
		*c = append(*c, k)
	}
}

// Has reports whether k was detected.
func (c ChangeSet) Has(k ChangeKind) bool {
	return slices.Contains(c, k)
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool {
	return len(c) == 0
}

// Kinds returns the detected kinds as strings, for logs and metrics.
func (c ChangeSet) Kinds() []string {
	out := make([]string, len(c))
	for i, k := range c {
		out[i] = string(k)
	}
	return out
}
