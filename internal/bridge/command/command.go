package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/k-laboratory/rovlink/internal/bridge/protocol"
)

// Kind enumerates the supported command kinds.
type Kind string

const (
	KindSetLightsLevel Kind = "set-lights-level"
	KindArm            Kind = "arm"
	KindDisarm         Kind = "disarm"
	KindSetMode        Kind = "set-mode"
	KindRCOverride     Kind = "rc-override"
)

// Status is the lifecycle state of a command request. Acked, TimedOut and
// Failed are terminal and immutable.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusSent     Status = "Sent"
	StatusAcked    Status = "Acked"
	StatusTimedOut Status = "TimedOut"
	StatusFailed   Status = "Failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusAcked || s == StatusTimedOut || s == StatusFailed
}

// Payload is the tagged-variant command payload. Each kind has its own
// strongly-typed shape, validated before any transmission attempt.
type Payload interface {
	Kind() Kind
	Validate() error
}

// SetLightsPayload sets the lights intensity.
type SetLightsPayload struct {
	Level int `json:"level"`
}

func (SetLightsPayload) Kind() Kind { return KindSetLightsLevel }

func (p SetLightsPayload) Validate() error {
	if p.Level < 0 || p.Level > 100 {
		return fmt.Errorf("lights level %d out of range 0-100", p.Level)
	}
	return nil
}

// ArmPayload arms or disarms depending on the kind it was parsed for.
type ArmPayload struct {
	arm bool
}

func (p ArmPayload) Kind() Kind {
	if p.arm {
		return KindArm
	}
	return KindDisarm
}

func (ArmPayload) Validate() error { return nil }

// SetModePayload switches the flight mode by name.
type SetModePayload struct {
	Mode string `json:"mode"`
}

func (SetModePayload) Kind() Kind { return KindSetMode }

func (p SetModePayload) Validate() error {
	if _, ok := protocol.ModeNumber(p.Mode); !ok {
		return fmt.Errorf("unknown flight mode %q", p.Mode)
	}
	return nil
}

// RCOverridePayload drives the manual-control channels directly. Zero on a
// channel means "leave unchanged"; everything else must be a sane PWM value.
type RCOverridePayload struct {
	Pitch    uint16 `json:"pitch"`
	Roll     uint16 `json:"roll"`
	Throttle uint16 `json:"throttle"`
	Yaw      uint16 `json:"yaw"`
	Forward  uint16 `json:"forward"`
	Lateral  uint16 `json:"lateral"`
}

func (RCOverridePayload) Kind() Kind { return KindRCOverride }

func (p RCOverridePayload) Validate() error {
	for _, v := range []uint16{p.Pitch, p.Roll, p.Throttle, p.Yaw, p.Forward, p.Lateral} {
		if v != 0 && (v < 1100 || v > 1900) {
			return fmt.Errorf("pwm value %d out of range 1100-1900", v)
		}
	}
	return nil
}

// ParsePayload decodes raw JSON into the typed payload for kind. It is the
// bridge between the wire API and the tagged-variant command model.
func ParsePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	strict := func(v any) error {
		if len(raw) == 0 {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		return dec.Decode(v)
	}

	switch kind {
	case KindSetLightsLevel:
		var p SetLightsPayload
		if err := strict(&p); err != nil {
			return nil, err
		}
		return p, nil
	case KindArm:
		return ArmPayload{arm: true}, nil
	case KindDisarm:
		return ArmPayload{arm: false}, nil
	case KindSetMode:
		var p SetModePayload
		if err := strict(&p); err != nil {
			return nil, err
		}
		return p, nil
	case KindRCOverride:
		var p RCOverridePayload
		if err := strict(&p); err != nil {
			return nil, err
		}
		return p, nil
	}

	return nil, fmt.Errorf("unknown command kind %q", kind)
}

// Request is one tracked command. Status transitions are the only mutations
// and happen under the dispatcher's lock.
type Request struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Status      Status    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`

	// Result is the vehicle-carried ack result code, set only for Acked.
	Result *uint8 `json:"result,omitempty"`

	// Error describes why a request failed, set only for Failed.
	Error string `json:"error,omitempty"`

	tag        uint16
	finishedAt time.Time
}
