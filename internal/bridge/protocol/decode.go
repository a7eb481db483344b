package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"time"

	"github.com/k-laboratory/rovlink/internal/bridge/state"
)

// Unit conversion constants. Depth is derived from absolute pressure the
// same way the vehicle's surface software does it (freshwater).
const (
	surfacePressurePa = 101325.0
	paPerMetre        = 9806.65
	voltageInvalid    = 0xFFFF
)

// Ack is a decoded command acknowledgment. Tag is the bridge-assigned
// correlation token echoed by the vehicle; arrival order is meaningless.
type Ack struct {
	Command uint16
	Tag     uint16
	Result  uint8
}

// Command ack result codes.
const (
	ResultAccepted          uint8 = 0
	ResultTemporarilyDenied uint8 = 1
	ResultDenied            uint8 = 2
	ResultUnsupported       uint8 = 3
	ResultFailed            uint8 = 4
)

// StreamInfo is a decoded camera stream announcement.
type StreamInfo struct {
	ID      uint8
	Name    string
	URI     string
	Running bool
}

// Result is everything extracted from one inbound datagram.
type Result struct {
	Fields     []state.Field
	Acks       []Ack
	Streams    []StreamInfo
	Heartbeats int

	// Frames counts well-formed frames, including unknown-message ones.
	Frames int

	// Dropped counts malformed frames, unknown messages and short payloads.
	// A corrupt frame never suppresses the rest of the datagram.
	Dropped int
}

// Decode parses one raw datagram into typed telemetry fields, acks and
// stream announcements. It is pure: the same buffer and clock always yield
// the same result, which makes captured-byte fixtures deterministic.
func Decode(buf []byte, now time.Time) Result {
	var res Result

	res.Dropped = walkFrames(buf, func(f frame) {
		res.Frames++
		if !decodeMessage(f, now, &res) {
			res.Dropped++
		}
	})

	return res
}

// decodeMessage dispatches one verified frame. It reports false for unknown
// message ids and payload size mismatches.
func decodeMessage(f frame, now time.Time, res *Result) bool {
	p := f.Payload

	field := func(name string, value float64, unit, text string) state.Field {
		return state.Field{
			Name:      name,
			Value:     value,
			Text:      text,
			Unit:      unit,
			UpdatedAt: now,
			Seq:       f.Seq,
		}
	}

	switch f.MsgID {
	case msgHeartbeat:
		if len(p) != 9 {
			return false
		}
		customMode := binary.LittleEndian.Uint32(p[0:4])
		baseMode := p[6]
		armed := 0.0
		armedText := "disarmed"
		if baseMode&0x80 != 0 {
			armed = 1.0
			armedText = "armed"
		}
		res.Heartbeats++
		res.Fields = append(res.Fields,
			field(state.FieldArmed, armed, "", armedText),
			field(state.FieldMode, float64(customMode), "", ModeName(customMode)),
		)
		return true

	case msgAttitude:
		if len(p) != 28 {
			return false
		}
		res.Fields = append(res.Fields,
			field(state.FieldRoll, f32(p[4:8]), "rad", ""),
			field(state.FieldPitch, f32(p[8:12]), "rad", ""),
			field(state.FieldYaw, f32(p[12:16]), "rad", ""),
		)
		return true

	case msgVFRHUD:
		if len(p) != 20 {
			return false
		}
		heading := int16(binary.LittleEndian.Uint16(p[16:18]))
		res.Fields = append(res.Fields,
			field(state.FieldHeading, float64(heading), "deg", ""),
		)
		return true

	case msgScaledPressure2:
		if len(p) != 14 {
			return false
		}
		pressAbs := f32(p[4:8]) // mbar
		depth := (pressAbs*100 - surfacePressurePa) / paPerMetre
		temp := int16(binary.LittleEndian.Uint16(p[12:14]))
		res.Fields = append(res.Fields,
			field(state.FieldDepth, depth, "m", ""),
			field(state.FieldWaterTemperature, float64(temp)/100, "degC", ""),
		)
		return true

	case msgBatteryStatus:
		if len(p) != 36 {
			return false
		}
		var fields []state.Field
		if mv := binary.LittleEndian.Uint16(p[10:12]); mv != voltageInvalid {
			fields = append(fields, field(state.FieldBatteryVoltage, float64(mv)/1000, "V", ""))
		}
		if remaining := int8(p[35]); remaining >= 0 {
			fields = append(fields, field(state.FieldBatteryRemaining, float64(remaining), "%", ""))
		}
		res.Fields = append(res.Fields, fields...)
		return true

	case msgNamedValueFloat:
		if len(p) != 18 {
			return false
		}
		name := cstr(p[8:18])
		if name == "" {
			return false
		}
		res.Fields = append(res.Fields,
			field(strings.ToLower(name), f32(p[4:8]), "", ""),
		)
		return true

	case msgCommandAck:
		if len(p) != 5 {
			return false
		}
		res.Acks = append(res.Acks, Ack{
			Command: binary.LittleEndian.Uint16(p[0:2]),
			Tag:     binary.LittleEndian.Uint16(p[2:4]),
			Result:  p[4],
		})
		return true

	case msgVideoStreamInfo:
		if len(p) != 194 {
			return false
		}
		name := cstr(p[2:34])
		uri := cstr(p[34:194])
		if name == "" || uri == "" {
			return false
		}
		res.Streams = append(res.Streams, StreamInfo{
			ID:      p[0],
			Name:    name,
			URI:     uri,
			Running: p[1]&0x01 != 0,
		})
		return true
	}

	return false
}

func f32(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}

// cstr extracts a NUL-padded fixed-size string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
