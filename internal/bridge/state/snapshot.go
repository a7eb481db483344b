package state

import "time"

// Well-known field names produced by the decoder and the dispatcher.
const (
	FieldArmed            = "armed"
	FieldMode             = "mode"
	FieldRoll             = "roll"
	FieldPitch            = "pitch"
	FieldYaw              = "yaw"
	FieldHeading          = "heading"
	FieldDepth            = "depth"
	FieldWaterTemperature = "water_temperature"
	FieldBatteryVoltage   = "battery_voltage"
	FieldBatteryRemaining = "battery_remaining"

	// FieldLastCommandStatus is the pseudo-field the dispatcher folds into
	// the snapshot so subscribers see command outcomes without a separate
	// channel.
	FieldLastCommandStatus = "last_command_status"
	FieldLastCommandID     = "last_command_id"
)

// Field is a single named measurement normalized to SI units at decode time.
type Field struct {
	Name string `json:"name"`

	// Value is the numeric reading. For discrete fields (armed, mode) it
	// carries the raw enumeration value and Text carries the display form.
	Value float64 `json:"value"`

	// Text is an optional human-readable rendering (mode name, command
	// status). Empty for plain numeric fields.
	Text string `json:"text,omitempty"`

	// Unit is the SI unit tag ("m", "V", "rad", "deg", "%" ...).
	Unit string `json:"unit,omitempty"`

	// UpdatedAt is when this field was last decoded. It never regresses.
	UpdatedAt time.Time `json:"updated_at"`

	// Seq is the source protocol sequence number that carried the update.
	Seq uint8 `json:"seq"`

	// Stale is derived on read: true when the field is older than the
	// staleness threshold or predates a link loss.
	Stale bool `json:"stale"`
}

// Snapshot is a complete, immutable copy of the current vehicle state.
type Snapshot struct {
	// Version increases by exactly one per accepted update batch.
	Version uint64 `json:"version"`

	// TakenAt is when this copy was produced.
	TakenAt time.Time `json:"taken_at"`

	Fields map[string]Field `json:"fields"`
}
