package notify

import (
	"context"
	"encoding/json"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/podstate/internal/pkg/metrics"
	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/model"
	"github.com/autopeer-io/podstate/pkg/log"
	pkgmqtt "github.com/autopeer-io/podstate/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/podstate/pkg/mqtt/topic"
)

const disconnectTimeout = 5 * time.Second

// MQTTNotifier publishes change events to {root}/pod/{podID}/events/{kind}.
// Publish only queues; Start owns the broker connection and does the sending,
// so a slow broker never holds up the state manager.
type MQTTNotifier struct {
	client pkgmqtt.Client
	topics *mqtttopic.Builder
	podID  string
	qos    int
	clock  clock.PassiveClock
	queue  chan Event
	log    log.Logger
}

var _ core.ChangeNotifier = (*MQTTNotifier)(nil)

// NewMQTTNotifier wraps an egress client. The client is started by Start.
func NewMQTTNotifier(client pkgmqtt.Client, topics *mqtttopic.Builder, podID string, qos, buffer int) *MQTTNotifier {
	return &MQTTNotifier{
		client: client,
		topics: topics,
		podID:  podID,
		qos:    qos,
		clock:  clock.RealClock{},
		queue:  make(chan Event, max(buffer, 1)),
		log:    log.WithName("notifier").WithValues("sink", "mqtt"),
	}
}

// Publish implements core.ChangeNotifier.
func (n *MQTTNotifier) Publish(_ context.Context, kind model.ChangeKind) {
	ev := Event{Kind: kind, PodID: n.podID, At: n.clock.Now()}
	if offer(n.queue, ev) {
		metrics.DroppedEventsTotal.Inc()
		n.log.Warn("Event queue full, dropped oldest change event")
	}
}

// Start connects and drains the queue until ctx is done.
func (n *MQTTNotifier) Start(ctx context.Context) error {
	if err := n.client.Start(ctx); err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		n.client.Disconnect(dctx)
	}()

	n.log.Info("MQTT change notifier started", "podId", n.podID)
	for {
		select {
		case ev := <-n.queue:
			n.send(ctx, ev)
		case <-ctx.Done():
			n.log.Info("Stopping MQTT change notifier", "pending", len(n.queue))
			return nil
		}
	}
}

func (n *MQTTNotifier) send(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.NotifyErrorsTotal.WithLabelValues("mqtt").Inc()
		n.log.Error(err, "Failed to encode change event", "kind", ev.Kind)
		return
	}

	topic := n.topics.Event(ev.PodID, string(ev.Kind))
	if err := n.client.Publish(ctx, topic, n.qos, false, payload); err != nil {
		metrics.NotifyErrorsTotal.WithLabelValues("mqtt").Inc()
		n.log.Error(err, "Failed to publish change event", "topic", topic)
		return
	}
	n.log.Debug("Change event published", "topic", topic)
}
