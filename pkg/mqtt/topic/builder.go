package topic

import (
	"fmt"
)

// Constants defining the standard topic segments.
// These act as the contract between the bridge and downstream consumers
// (dashboards, recorders, chat notifiers). Changing them breaks consumers.
const (
	// SuffixTelemetry carries full vehicle snapshots (bridge -> consumers).
	// Structure: {root}/telemetry/{vehicleID}
	SuffixTelemetry = "telemetry"

	// SuffixCommand carries command submissions (consumers -> bridge).
	// Structure: {root}/command/{vehicleID}
	SuffixCommand = "command"

	// SuffixCommandAck carries terminal command outcomes (bridge -> consumers).
	// By placing it under 'command/ack', we maintain logical grouping.
	// Structure: {root}/command/ack/{vehicleID}
	SuffixCommandAck = "command/ack"

	// SuffixLink carries vehicle link state transitions (bridge -> consumers).
	// Structure: {root}/link/{vehicleID}
	SuffixLink = "link"
)

// Builder encapsulates the logic for constructing MQTT topic strings.
// It keeps everything the bridge publishes on one consistent layout.
type Builder struct {
	// root is the base namespace for all topics (e.g., "rov/v1").
	root string
}

// NewBuilder creates a new Builder with the specified root namespace.
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Telemetry returns the topic for publishing snapshots of a vehicle.
func (b *Builder) Telemetry(vehicleID string) string {
	return b.build(SuffixTelemetry, vehicleID)
}

// Command returns the topic the bridge listens on for a vehicle's command
// submissions.
func (b *Builder) Command(vehicleID string) string {
	return b.build(SuffixCommand, vehicleID)
}

// CommandAck returns the topic for publishing a vehicle's command outcomes.
func (b *Builder) CommandAck(vehicleID string) string {
	return b.build(SuffixCommandAck, vehicleID)
}

// Link returns the topic for publishing a vehicle's link state changes.
func (b *Builder) Link(vehicleID string) string {
	return b.build(SuffixLink, vehicleID)
}

// build is a private helper to construct the final topic string.
// Pattern: {root}/{suffix}/{identifier}
func (b *Builder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
