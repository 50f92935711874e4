// Package alerts keeps the user-facing alerts of the agent. An alert is
// identified by its ID; posting the same ID again replaces the old entry.
package alerts

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/podstate/internal/pkg/metrics"
	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/pkg/log"
)

// Alert is one user-facing notification.
type Alert struct {
	ID       string    `json:"id"`
	Message  string    `json:"message"`
	PostedAt time.Time `json:"postedAt"`
}

// Center is safe for concurrent use.
type Center struct {
	mu     sync.RWMutex
	alerts map[string]Alert
	clock  clock.PassiveClock
	log    log.Logger
}

var (
	_ core.AlertDismisser = (*Center)(nil)
	_ core.AlertPoster    = (*Center)(nil)
)

// NewCenter returns an empty Center. A nil clock means the wall clock.
func NewCenter(c clock.PassiveClock) *Center {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Center{
		alerts: make(map[string]Alert),
		clock:  c,
		log:    log.WithName("alerts"),
	}
}

// Post shows an alert, replacing one with the same id.
func (c *Center) Post(id, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.alerts[id]; ok && old.Message == message {
		return
	}
	c.alerts[id] = Alert{ID: id, Message: message, PostedAt: c.clock.Now()}
	metrics.ActiveAlerts.Set(float64(len(c.alerts)))
	c.log.Warn("User alert posted", "id", id, "message", message)
}

// Dismiss removes the alert with id. Unknown ids are ignored.
func (c *Center) Dismiss(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.alerts[id]; !ok {
		return
	}
	delete(c.alerts, id)
	metrics.ActiveAlerts.Set(float64(len(c.alerts)))
	c.log.Info("User alert dismissed", "id", id)
}

// Get returns the alert with id.
func (c *Center) Get(id string) (Alert, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.alerts[id]
	return a, ok
}

// Active lists the shown alerts, oldest first.
func (c *Center) Active() []Alert {
	c.mu.RLock()
	out := make([]Alert, 0, len(c.alerts))
	for _, a := range c.alerts {
		out = append(out, a)
	}
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b Alert) int {
		if n := a.PostedAt.Compare(b.PostedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
