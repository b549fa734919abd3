package gt06

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// CoordinateMode selects how hemispheres are derived from a location frame.
// Most firmware signs the raw 32-bit coordinate; some variants always send
// the magnitude and flag hemispheres in the course/status word instead.
type CoordinateMode int

const (
	// CoordSigned trusts the sign of the raw 32-bit value.
	CoordSigned CoordinateMode = iota
	// CoordFlags applies the course/status hemisphere bits (bit 10 north,
	// bit 11 west) to the magnitude.
	CoordFlags
)

// ParseCoordinateMode maps a configuration string to a CoordinateMode.
func ParseCoordinateMode(s string) (CoordinateMode, error) {
	switch s {
	case "", "signed":
		return CoordSigned, nil
	case "flags":
		return CoordFlags, nil
	}
	return CoordSigned, fmt.Errorf("gt06: unknown coordinate mode %q", s)
}

// Packet is the closed variant set produced by Decode. The session handler
// dispatches on the concrete type.
type Packet interface{ isPacket() }

// LoginPacket binds a transport session to a device identity.
type LoginPacket struct {
	IMEI   string
	Serial uint16
}

// LocationPacket is a decoded 0x12 position report.
type LocationPacket struct {
	Time        time.Time
	Satellites  int
	Latitude    float64
	Longitude   float64
	Speed       int
	Course      int
	RealtimeGPS bool
	Serial      uint16
}

// HeartbeatPacket is an empty 0x13 keep-alive.
type HeartbeatPacket struct {
	Serial uint16
}

// UnknownPacket carries the protocol byte of a frame this gateway does not
// handle; the session advances past it without acknowledging.
type UnknownPacket struct {
	Protocol byte
	Serial   uint16
}

func (LoginPacket) isPacket()     {}
func (LocationPacket) isPacket()  {}
func (HeartbeatPacket) isPacket() {}
func (UnknownPacket) isPacket()   {}

// Raw coordinates are degrees scaled by 1800000 (30000 ticks per minute).
const coordDivisor = 1800000.0

// Course/status word bits. The low 10 bits carry the course.
const (
	courseMask   = 0x03FF
	flagNorth    = 0x0400
	flagWest     = 0x0800
	flagRealtime = 0x2000
)

var ErrBadIMEI = errors.New("gt06: login IMEI is not 15 decimal digits")

// Decode interprets a frame's payload by protocol number. It performs no
// I/O and never fails on unknown protocols.
func Decode(f *Frame, mode CoordinateMode) (Packet, error) {
	switch f.Protocol {
	case ProtoLogin:
		return decodeLogin(f)
	case ProtoLocation:
		return decodeLocation(f, mode)
	case ProtoHeartbeat:
		return HeartbeatPacket{Serial: f.Serial}, nil
	default:
		return UnknownPacket{Protocol: f.Protocol, Serial: f.Serial}, nil
	}
}

func decodeLogin(f *Frame) (Packet, error) {
	if len(f.Payload) < 8 {
		return nil, fmt.Errorf("gt06: login payload too short: %d bytes", len(f.Payload))
	}
	imei := decodeBCD(f.Payload[:8])
	if len(imei) != 15 {
		return nil, fmt.Errorf("%w: %q", ErrBadIMEI, imei)
	}
	return LoginPacket{IMEI: imei, Serial: f.Serial}, nil
}

// decodeBCD expands nibbles to decimal digits, skipping 0xF padding. Eight
// BCD bytes hold 16 nibbles; the 15-digit IMEI is padded with either a
// leading zero or a trailing 0xF.
func decodeBCD(b []byte) string {
	digits := make([]byte, 0, 16)
	for _, octet := range b {
		for _, nib := range [2]byte{octet >> 4, octet & 0x0F} {
			if nib == 0x0F {
				continue
			}
			if nib > 9 {
				return ""
			}
			digits = append(digits, '0'+nib)
		}
	}
	if len(digits) == 16 && digits[0] == '0' {
		digits = digits[1:]
	}
	if len(digits) > 15 {
		digits = digits[:15]
	}
	return string(digits)
}

// decodeLocation reads a 0x12 payload. Offsets follow the frame layout:
// date-time(6), satellites/status(1), latitude(4), longitude(4), speed(1),
// course/status(2). The 10-bit wire course (0..1023) is reduced modulo 360.
func decodeLocation(f *Frame, mode CoordinateMode) (Packet, error) {
	p := f.Payload
	if len(p) < 18 {
		return nil, fmt.Errorf("gt06: location payload too short: %d bytes", len(p))
	}
	ts, err := parseTime(p[:6])
	if err != nil {
		return nil, err
	}
	lat := float64(int32(binary.BigEndian.Uint32(p[7:11]))) / coordDivisor
	lon := float64(int32(binary.BigEndian.Uint32(p[11:15]))) / coordDivisor
	courseStatus := binary.BigEndian.Uint16(p[16:18])
	if mode == CoordFlags {
		lat = math.Abs(lat)
		lon = math.Abs(lon)
		if courseStatus&flagNorth == 0 {
			lat = -lat
		}
		if courseStatus&flagWest != 0 {
			lon = -lon
		}
	}
	return LocationPacket{
		Time:        ts,
		Satellites:  int(p[6] >> 4),
		Latitude:    lat,
		Longitude:   lon,
		Speed:       int(p[15]),
		Course:      int(courseStatus&courseMask) % 360,
		RealtimeGPS: courseStatus&flagRealtime != 0,
		Serial:      f.Serial,
	}, nil
}

// parseTime reads the six binary date-time bytes (year-2000, month, day,
// hour, minute, second), always UTC.
func parseTime(b []byte) (time.Time, error) {
	month, day := int(b[1]), int(b[2])
	if month < 1 || month > 12 || day < 1 || day > 31 ||
		int(b[3]) > 23 || int(b[4]) > 59 || int(b[5]) > 59 {
		return time.Time{}, fmt.Errorf("gt06: invalid date-time % X", b)
	}
	return time.Date(2000+int(b[0]), time.Month(month), day,
		int(b[3]), int(b[4]), int(b[5]), 0, time.UTC), nil
}
