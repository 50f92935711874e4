// Package notify delivers pod state change events to subscribers.
package notify

import (
	"time"

	"github.com/autopeer-io/podstate/internal/podstate/model"
)

// Event is one published change.
type Event struct {
	Kind  model.ChangeKind `json:"kind"`
	PodID string           `json:"podId"`
	At    time.Time        `json:"at"`
}

// offer delivers ev to ch without blocking. When ch is full the oldest queued
// event is discarded. It reports whether an event was dropped.
func offer(ch chan Event, ev Event) (dropped bool) {
	for {
		select {
		case ch <- ev:
			return dropped
		default:
		}
		select {
		case <-ch:
			dropped = true
		default:
		}
	}
}
