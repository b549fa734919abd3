package gt06

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"
)

func mustLogin(t *testing.T, imei string, serial uint16) []byte {
	t.Helper()
	data, err := BuildLogin(imei, serial)
	if err != nil {
		t.Fatalf("build login: %v", err)
	}
	return data
}

func TestLoginAckRoundTrip(t *testing.T) {
	data := mustLogin(t, "868022038531725", 1)
	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode login frame: %v", err)
	}
	if frame.Protocol != ProtoLogin {
		t.Fatalf("unexpected protocol: 0x%02X", frame.Protocol)
	}
	ack := EncodeAck(frame.Protocol, frame.Serial)
	wantPrefix := []byte{0x78, 0x78, 0x05, 0x01, 0x00, 0x01}
	if !bytes.HasPrefix(ack, wantPrefix) {
		t.Fatalf("ack prefix mismatch: % X", ack)
	}
	if !bytes.HasSuffix(ack, []byte{0x0D, 0x0A}) {
		t.Fatalf("ack terminator missing: % X", ack)
	}
	// the ack is itself a valid frame
	if _, err := DecodeFrame(ack); err != nil {
		t.Fatalf("ack does not decode: %v", err)
	}
}

func TestDecodeFrameChecksumMismatch(t *testing.T) {
	data := mustLogin(t, "868022038531725", 1)
	data[7] ^= 0xFF
	if _, err := DecodeFrame(data); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected checksum error, got %v", err)
	}
}

func TestDecodeFrameBadPrefix(t *testing.T) {
	data := mustLogin(t, "868022038531725", 1)
	data[0] = 0x79
	if _, err := DecodeFrame(data); !errors.Is(err, ErrBadPrefix) {
		t.Fatalf("expected prefix error, got %v", err)
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	data := mustLogin(t, "868022038531725", 1)
	if _, err := DecodeFrame(data[:10]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected truncation error, got %v", err)
	}
}

func TestSplitFramesComplete(t *testing.T) {
	data := mustLogin(t, "868022038531725", 9)
	advance, token, err := SplitFrames(data, false)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if advance != len(data) || !bytes.Equal(token, data) {
		t.Fatalf("expected whole frame, advance=%d token=% X", advance, token)
	}
}

func TestSplitFramesPartialTail(t *testing.T) {
	data := mustLogin(t, "868022038531725", 9)
	advance, token, err := SplitFrames(data[:10], false)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if advance != 0 || token != nil {
		t.Fatalf("partial frame must stay buffered, advance=%d", advance)
	}
}

func TestSplitFramesResync(t *testing.T) {
	frame := mustLogin(t, "868022038531725", 1)
	data := append([]byte{0xFF, 0xFF}, frame...)

	advance, token, err := SplitFrames(data, false)
	if err != nil || token != nil || advance != 2 {
		t.Fatalf("expected 2 garbage bytes dropped, advance=%d token=% X err=%v", advance, token, err)
	}
	_, token, err = SplitFrames(data[advance:], false)
	if err != nil {
		t.Fatalf("split after resync: %v", err)
	}
	if !bytes.Equal(token, frame) {
		t.Fatalf("frame lost after resync: % X", token)
	}
}

func TestSplitFramesImpossibleLength(t *testing.T) {
	data := []byte{0x78, 0x78, 0x03, 0x01, 0x0D, 0x0A}
	advance, token, _ := SplitFrames(data, false)
	if advance != 2 || token != nil {
		t.Fatalf("impossible length must skip the prefix, advance=%d", advance)
	}
}

func TestSplitFramesKeepsTrailingStartByte(t *testing.T) {
	advance, token, _ := SplitFrames([]byte{0x01, 0x02, 0x78}, false)
	if advance != 2 || token != nil {
		t.Fatalf("trailing 0x78 must stay buffered, advance=%d", advance)
	}
}

func TestScannerFrameAcrossReads(t *testing.T) {
	frame := mustLogin(t, "868022038531725", 7)
	hb := BuildHeartbeat(8)
	stream := append(append([]byte(nil), frame...), hb...)

	// at most 5 bytes per read, so every frame straddles segments
	scanner := bufio.NewScanner(&slowReader{data: stream, step: 5})
	scanner.Split(SplitFrames)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], frame) || !bytes.Equal(got[1], hb) {
		t.Fatalf("frames corrupted by segmentation")
	}
}

// slowReader yields at most step bytes per read.
type slowReader struct {
	data []byte
	step int
}

func (r *slowReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.step
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}
