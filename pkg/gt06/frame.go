// Package gt06 implements framing, parsing and acknowledgment encoding for
// the GT06 family of vehicle tracker protocols.
//
// Wire layout of every frame:
//
//	0x78 0x78 | length | protocol | payload… | serial(2) | crc(2) | 0x0D 0x0A
//
// length counts every byte from protocol through crc inclusive, so a full
// frame occupies length+5 bytes.
package gt06

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

const (
	startByte = 0x78
	endByte1  = 0x0D
	endByte2  = 0x0A

	// start(2) + length(1) + terminator(2)
	frameOverhead = 5
	// protocol(1) + serial(2) + crc(2), i.e. an empty payload
	minBodyLen = 5
)

// Protocol numbers handled by this gateway.
const (
	ProtoLogin     = 0x01
	ProtoLocation  = 0x12
	ProtoHeartbeat = 0x13
)

var (
	ErrBadPrefix   = errors.New("gt06: frame does not start with 0x78 0x78")
	ErrFrameLength = errors.New("gt06: impossible frame length")
	ErrTruncated   = errors.New("gt06: frame truncated")
	ErrTerminator  = errors.New("gt06: missing 0x0D 0x0A terminator")
	ErrChecksum    = errors.New("gt06: checksum mismatch")
)

// Frame is one parsed GT06 packet. Payload excludes the protocol number,
// serial and crc. Frames are consumed immediately after decode and never
// retained.
type Frame struct {
	Length   byte
	Protocol byte
	Payload  []byte
	Serial   uint16
}

var framePrefix = []byte{startByte, startByte}

// SplitFrames is a bufio.SplitFunc that emits complete GT06 frames from a
// byte stream. Garbage before the next 0x78 0x78 prefix is discarded, a
// partial frame tail stays in the buffer until the next read, and a prefix
// followed by an impossible length byte is skipped so scanning can resume
// behind it.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, framePrefix)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// a trailing 0x78 may be the first half of the next prefix
		if n := len(data); n > 0 && data[n-1] == startByte {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	if start > 0 {
		// resynchronize without throwing away the valid prefix
		slog.Debug("gt06: discarding bytes before frame prefix", "count", start)
		return start, nil, nil
	}
	if len(data) < 3 {
		return 0, nil, nil
	}
	if data[2] < minBodyLen {
		// unrecoverable at this position, skip the prefix and rescan
		return 2, nil, nil
	}
	total := int(data[2]) + frameOverhead
	if len(data) < total {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	frame := make([]byte, total)
	copy(frame, data[:total])
	return total, frame, nil
}

// DecodeFrame validates a complete frame and splits it into its parts.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < 2 || data[0] != startByte || data[1] != startByte {
		return nil, ErrBadPrefix
	}
	if len(data) < 3 || data[2] < minBodyLen {
		return nil, ErrFrameLength
	}
	total := int(data[2]) + frameOverhead
	if len(data) < total {
		return nil, ErrTruncated
	}
	if data[total-2] != endByte1 || data[total-1] != endByte2 {
		return nil, ErrTerminator
	}
	want := binary.BigEndian.Uint16(data[total-4 : total-2])
	if got := Checksum(data[2 : total-4]); got != want {
		return nil, fmt.Errorf("%w: got 0x%04X want 0x%04X", ErrChecksum, got, want)
	}
	return &Frame{
		Length:   data[2],
		Protocol: data[3],
		Payload:  append([]byte(nil), data[4:total-6]...),
		Serial:   binary.BigEndian.Uint16(data[total-6 : total-4]),
	}, nil
}

// EncodeAck builds the acknowledgment the device expects for a frame: the
// protocol number and serial are echoed back, the CRC covers the bytes from
// length through serial.
func EncodeAck(protocol byte, serial uint16) []byte {
	buf := make([]byte, 0, 10)
	buf = append(buf, startByte, startByte, minBodyLen, protocol, byte(serial>>8), byte(serial))
	crc := Checksum(buf[2:])
	return append(buf, byte(crc>>8), byte(crc), endByte1, endByte2)
}
