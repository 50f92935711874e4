package core

import (
	"context"

	"github.com/autopeer-io/podstate/internal/podstate/model"
)

// SnapshotStore persists one opaque serialized snapshot.
type SnapshotStore interface {
	// Read returns the stored blob. ok is false when nothing has been written yet.
	Read(ctx context.Context) (data []byte, ok bool, err error)

	// Write replaces the stored blob.
	Write(ctx context.Context, data []byte) error
}

// ChangeNotifier broadcasts change events. Publication is fire-and-forget;
// subscribers must tolerate duplicates.
type ChangeNotifier interface {
	Publish(ctx context.Context, kind model.ChangeKind)
}

// AlertDismisser clears a user-facing alert. Dismissing an alert that is not
// shown is a no-op.
type AlertDismisser interface {
	Dismiss(id string)
}

// AlertPoster raises a user-facing alert, replacing any alert with the same id.
type AlertPoster interface {
	Post(id, message string)
}

// RefreshFailedAlert is the single alert shown while pod status cannot be refreshed.
const RefreshFailedAlert = "omnipod_startup_status_refresh_failed"

// NotifierFunc adapts a function to ChangeNotifier.
type NotifierFunc func(ctx context.Context, kind model.ChangeKind)

func (f NotifierFunc) Publish(ctx context.Context, kind model.ChangeKind) { f(ctx, kind) }

// DismisserFunc adapts a function to AlertDismisser.
type DismisserFunc func(id string)

func (f DismisserFunc) Dismiss(id string) { f(id) }
