package protocol

import (
	"encoding/binary"
	"math"
)

// Outbound command numbers (MAVLink common set).
const (
	CmdComponentArmDisarm uint16 = 400
	CmdDoSetMode          uint16 = 176
	CmdDoSetServo         uint16 = 183
)

// LightsServoChannel is the servo output driving the lights on the standard
// ROV wiring.
const LightsServoChannel = 9

// LightsPWM maps a 0-100 lights level to the 1100-1900 PWM range.
func LightsPWM(level int) float32 {
	return float32(1100 + level*8)
}

// EncodeHeartbeat builds the periodic station heartbeat announcing the
// bridge to the vehicle (type GCS, no autopilot).
func EncodeHeartbeat(seq, sysID, compID uint8) []byte {
	p := make([]byte, 9)
	// custom_mode stays zero for a ground station
	p[4] = 6 // MAV_TYPE_GCS
	p[5] = 8 // MAV_AUTOPILOT_INVALID
	p[7] = 4 // MAV_STATE_ACTIVE
	p[8] = 3 // protocol version
	return buildFrame(seq, sysID, compID, msgHeartbeat, p)
}

// EncodeCommandLong builds a COMMAND_LONG frame. The tag is the bridge's
// correlation token; the vehicle echoes it in COMMAND_ACK so acks can be
// matched to the originating request regardless of arrival order.
func EncodeCommandLong(seq, sysID, compID, targetSys, targetComp uint8, command, tag uint16, params [7]float32) []byte {
	p := make([]byte, 35)
	for i, v := range params {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	binary.LittleEndian.PutUint16(p[28:], command)
	binary.LittleEndian.PutUint16(p[30:], tag)
	p[32] = targetSys
	p[33] = targetComp
	// p[34] confirmation stays zero: commands are never blindly re-sent
	return buildFrame(seq, sysID, compID, msgCommandLong, p)
}

// EncodeRCOverride builds an RC_CHANNELS_OVERRIDE frame. A zero channel
// value means "no change" on the vehicle side.
func EncodeRCOverride(seq, sysID, compID, targetSys, targetComp uint8, channels [8]uint16) []byte {
	p := make([]byte, 18)
	for i, v := range channels {
		binary.LittleEndian.PutUint16(p[i*2:], v)
	}
	p[16] = targetSys
	p[17] = targetComp
	return buildFrame(seq, sysID, compID, msgRCChannelsOverride, p)
}
