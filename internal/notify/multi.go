package notify

import (
	"context"

	"github.com/autopeer-io/podstate/internal/podstate/core"
	"github.com/autopeer-io/podstate/internal/podstate/model"
)

// Multi publishes every event to each notifier in order.
type Multi []core.ChangeNotifier

// Publish implements core.ChangeNotifier.
func (m Multi) Publish(ctx context.Context, kind model.ChangeKind) {
	for _, n := range m {
		if n != nil {
			n.Publish(ctx, kind)
		}
	}
}
