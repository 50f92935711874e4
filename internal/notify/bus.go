package notify

import (
	"context"
	"sync"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/podstate/internal/pkg/metrics"
	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/model"
)

// Bus fans change events out to in-process subscribers. Publish never blocks:
// a subscriber that falls behind loses its oldest events.
type Bus struct {
	mu     sync.Mutex
	podID  string
	buffer int
	clock  clock.PassiveClock
	nextID int
	subs   map[int]chan Event
}

var _ core.ChangeNotifier = (*Bus)(nil)

// NewBus returns a Bus whose subscriptions default to buffer events.
func NewBus(podID string, buffer int, c clock.PassiveClock) *Bus {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Bus{
		podID:  podID,
		buffer: max(buffer, 1),
		clock:  c,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe returns a channel of future events and a func that ends the
// subscription and closes the channel. buffer <= 0 uses the bus default.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = b.buffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish implements core.ChangeNotifier.
func (b *Bus) Publish(_ context.Context, kind model.ChangeKind) {
	ev := Event{Kind: kind, PodID: b.podID, At: b.clock.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		if offer(ch, ev) {
			metrics.DroppedEventsTotal.Inc()
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
