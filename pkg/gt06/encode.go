package gt06

import (
	"bytes"
	"encoding/binary"
	"math"
)

// encodeFrame wraps a protocol number and payload into a complete frame.
func encodeFrame(protocol byte, payload []byte, serial uint16) []byte {
	var buf bytes.Buffer
	buf.WriteByte(startByte)
	buf.WriteByte(startByte)
	buf.WriteByte(byte(len(payload) + minBodyLen))
	buf.WriteByte(protocol)
	buf.Write(payload)
	_ = binary.Write(&buf, binary.BigEndian, serial)
	crc := Checksum(buf.Bytes()[2:])
	_ = binary.Write(&buf, binary.BigEndian, crc)
	buf.WriteByte(endByte1)
	buf.WriteByte(endByte2)
	return buf.Bytes()
}

// BuildLogin encodes a login frame for a 15-digit IMEI, zero-padded to 16
// BCD nibbles on the wire. Used by the simulator and round-trip tests.
func BuildLogin(imei string, serial uint16) ([]byte, error) {
	if len(imei) != 15 {
		return nil, ErrBadIMEI
	}
	padded := "0" + imei
	payload := make([]byte, 8)
	for i := range payload {
		hi, lo := padded[2*i]-'0', padded[2*i+1]-'0'
		if hi > 9 || lo > 9 {
			return nil, ErrBadIMEI
		}
		payload[i] = hi<<4 | lo
	}
	return encodeFrame(ProtoLogin, payload, serial), nil
}

// BuildLocation encodes a 0x12 location frame from already-parsed fields.
// Coordinates are written as signed raw values; hemisphere flag bits are
// not set.
func BuildLocation(loc LocationPacket, serial uint16) []byte {
	payload := make([]byte, 18)
	t := loc.Time.UTC()
	payload[0] = byte(t.Year() - 2000)
	payload[1] = byte(t.Month())
	payload[2] = byte(t.Day())
	payload[3] = byte(t.Hour())
	payload[4] = byte(t.Minute())
	payload[5] = byte(t.Second())
	payload[6] = byte(loc.Satellites&0x0F) << 4
	binary.BigEndian.PutUint32(payload[7:11], uint32(int32(math.Round(loc.Latitude*coordDivisor))))
	binary.BigEndian.PutUint32(payload[11:15], uint32(int32(math.Round(loc.Longitude*coordDivisor))))
	payload[15] = byte(loc.Speed)
	course := uint16(loc.Course) & courseMask
	if loc.RealtimeGPS {
		course |= flagRealtime
	}
	binary.BigEndian.PutUint16(payload[16:18], course)
	return encodeFrame(ProtoLocation, payload, serial)
}

// BuildHeartbeat encodes an empty 0x13 keep-alive frame.
func BuildHeartbeat(serial uint16) []byte {
	return encodeFrame(ProtoHeartbeat, nil, serial)
}
