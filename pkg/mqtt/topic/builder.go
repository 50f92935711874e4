package topic

import (
	"fmt"
	"strings"
)

// Topic segments shared between the pod transport and the state agent.
// Renaming any of them breaks existing publishers.
const (
	// SegmentStatus carries decoded status reports (transport -> agent).
	// Structure: {root}/pod/{podID}/status
	SegmentStatus = "status"

	// SegmentCommandIssued announces a temporary basal command right before it is sent
	// (transport -> agent).
	// Structure: {root}/pod/{podID}/command/issued
	SegmentCommandIssued = "command/issued"

	// SegmentEvents carries change notifications (agent -> subscribers).
	// Structure: {root}/pod/{podID}/events/{kind}
	SegmentEvents = "events"
)

const (
	// Wildcard matches exactly one topic level.
	Wildcard = "+"

	// MultiWildcard matches the remaining levels; it must come last.
	MultiWildcard = "#"
)

// Builder constructs pod topic strings under a fixed root namespace.
type Builder struct {
	root string
}

// NewBuilder returns a Builder for root, e.g. "aaps/v1". Trailing slashes are trimmed.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.TrimRight(root, "/")}
}

// Status returns the topic status reports for podID arrive on.
func (b *Builder) Status(podID string) string {
	return b.pod(podID, SegmentStatus)
}

// CommandIssued returns the topic command issuance hooks for podID arrive on.
func (b *Builder) CommandIssued(podID string) string {
	return b.pod(podID, SegmentCommandIssued)
}

// Event returns the topic a change of the given kind is published to.
func (b *Builder) Event(podID, kind string) string {
	return b.pod(podID, SegmentEvents+"/"+kind)
}

// Events returns a filter matching every change event of podID.
func (b *Builder) Events(podID string) string {
	return b.pod(podID, SegmentEvents+"/"+MultiWildcard)
}

// Pattern: {root}/pod/{podID}/{segment}
func (b *Builder) pod(podID, segment string) string {
	return fmt.Sprintf("%s/pod/%s/%s", b.root, podID, segment)
}
