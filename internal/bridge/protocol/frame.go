package protocol

import "encoding/binary"

// Wire framing, MAVLink v1 flavoured:
//
//	0xFE | len | seq | sysid | compid | msgid | payload ... | crc_lo | crc_hi
//
// The CRC is CRC-16/X.25 over everything between the start byte and the
// checksum (len through payload). Payloads are little-endian.
const (
	stx       = 0xFE
	headerLen = 6
	crcLen    = 2
)

// Message ids understood by the bridge. Ids below 200 follow the upstream
// MAVLink common set; 200 is a bridge-local id for camera announcements.
const (
	msgHeartbeat          uint8 = 0
	msgAttitude           uint8 = 30
	msgRCChannelsOverride uint8 = 70
	msgVFRHUD             uint8 = 74
	msgCommandLong        uint8 = 76
	msgCommandAck         uint8 = 77
	msgScaledPressure2    uint8 = 137
	msgBatteryStatus      uint8 = 147
	msgVideoStreamInfo    uint8 = 200
	msgNamedValueFloat    uint8 = 251
)

// frame is a validated wire frame. Payload aliases the input buffer.
type frame struct {
	Seq     uint8
	SysID   uint8
	CompID  uint8
	MsgID   uint8
	Payload []byte
}

// crcX25 is the CRC-16/X.25 accumulator used by MAVLink.
func crcX25(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		tmp := b ^ byte(crc)
		tmp ^= tmp << 4
		crc = (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
	}
	return crc
}

// walkFrames scans buf for frames, invoking fn for each frame whose checksum
// verifies. It returns the number of drops: one per run of garbage bytes, one
// per truncated tail and one per checksum failure.
func walkFrames(buf []byte, fn func(f frame)) int {
	dropped := 0
	i := 0
	n := len(buf)

	for i < n {
		if buf[i] != stx {
			// Garbage run: count once, resync on the next start byte.
			dropped++
			for i < n && buf[i] != stx {
				i++
			}
			continue
		}

		if i+headerLen+crcLen > n {
			dropped++
			break
		}

		plen := int(buf[i+1])
		end := i + headerLen + plen + crcLen
		if end > n {
			dropped++
			break
		}

		want := crcX25(buf[i+1 : end-crcLen])
		got := binary.LittleEndian.Uint16(buf[end-crcLen : end])
		if want != got {
			// The length byte of a corrupt frame cannot be trusted: a
			// genuine frame may start inside its claimed span. Resync on
			// the next start byte past this one.
			dropped++
			i++
			for i < n && buf[i] != stx {
				i++
			}
			continue
		}

		fn(frame{
			Seq:     buf[i+2],
			SysID:   buf[i+3],
			CompID:  buf[i+4],
			MsgID:   buf[i+5],
			Payload: buf[i+headerLen : end-crcLen],
		})
		i = end
	}

	return dropped
}

// buildFrame assembles a complete wire frame around payload.
func buildFrame(seq, sysID, compID, msgID uint8, payload []byte) []byte {
	out := make([]byte, headerLen+len(payload)+crcLen)
	out[0] = stx
	out[1] = uint8(len(payload))
	out[2] = seq
	out[3] = sysID
	out[4] = compID
	out[5] = msgID
	copy(out[headerLen:], payload)
	crc := crcX25(out[1 : headerLen+len(payload)])
	binary.LittleEndian.PutUint16(out[headerLen+len(payload):], crc)
	return out
}

// ContainsHeartbeat reports whether buf carries at least one valid vehicle
// heartbeat frame. Used by the link manager for liveness without decoding
// the rest of the datagram.
func ContainsHeartbeat(buf []byte) bool {
	found := false
	walkFrames(buf, func(f frame) {
		if f.MsgID == msgHeartbeat {
			found = true
		}
	})
	return found
}
