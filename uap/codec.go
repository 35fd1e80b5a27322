package uap

import "encoding/binary"

// Encode packs a packet into its wire representation. It does not allocate
// beyond the single returned slice.
func Encode(command Command, seq, sessionID uint32, clock, timestamp uint64, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = byte(command)
	binary.BigEndian.PutUint32(buf[4:8], seq)
	binary.BigEndian.PutUint32(buf[8:12], sessionID)
	binary.BigEndian.PutUint64(buf[12:20], clock)
	binary.BigEndian.PutUint64(buf[20:28], timestamp)
	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode unpacks a wire datagram into a Packet. It rejects (ok=false) any
// input shorter than HeaderSize or carrying the wrong magic or version,
// without otherwise inspecting the payload.
func Decode(raw []byte) (Packet, bool) {
	if len(raw) < HeaderSize {
		return Packet{}, false
	}
	if binary.BigEndian.Uint16(raw[0:2]) != Magic {
		return Packet{}, false
	}
	if raw[2] != Version {
		return Packet{}, false
	}
	p := Packet{
		Command:      Command(raw[3]),
		Sequence:     binary.BigEndian.Uint32(raw[4:8]),
		SessionID:    binary.BigEndian.Uint32(raw[8:12]),
		LogicalClock: binary.BigEndian.Uint64(raw[12:20]),
		Timestamp:    binary.BigEndian.Uint64(raw[20:28]),
	}
	if n := len(raw) - HeaderSize; n > 0 {
		p.Payload = make([]byte, n)
		copy(p.Payload, raw[HeaderSize:])
	}
	return p, true
}
