package rcon

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		id         int32
		packetType int32
		body       string
	}{
		{"auth", 1, TypeAuth, "secret"},
		{"command", 42, TypeExecCommand, "save"},
		{"empty body", 7, TypeResponseValue, ""},
		{"max body", 9, TypeResponseValue, strings.Repeat("a", MaxBodySize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.id, tt.packetType, tt.body)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			want := Packet{ID: tt.id, Type: tt.packetType, Body: tt.body}
			if got != want {
				t.Errorf("roundtrip = %+v, want %+v", got, want)
			}
		})
	}
}

func TestEncodeWireFormat(t *testing.T) {
	raw, err := Encode(1, TypeExecCommand, "test")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(raw) != 18 {
		t.Fatalf("frame length = %d, want 18", len(raw))
	}
	if size := binary.LittleEndian.Uint32(raw[0:4]); size != 14 {
		t.Errorf("size field = %d, want 14", size)
	}
	if id := binary.LittleEndian.Uint32(raw[4:8]); id != 1 {
		t.Errorf("id field = %d, want 1", id)
	}
	if typ := binary.LittleEndian.Uint32(raw[8:12]); typ != uint32(TypeExecCommand) {
		t.Errorf("type field = %d, want %d", typ, TypeExecCommand)
	}
	if body := string(raw[12:16]); body != "test" {
		t.Errorf("body = %q, want %q", body, "test")
	}
	if raw[16] != 0 || raw[17] != 0 {
		t.Errorf("terminators = %v, want two NULs", raw[16:18])
	}
}

func TestEncodeRejectsInvalidBodies(t *testing.T) {
	if _, err := Encode(1, TypeExecCommand, strings.Repeat("a", MaxBodySize+1)); !errors.Is(err, ErrInvalidBody) {
		t.Errorf("oversize body error = %v, want ErrInvalidBody", err)
	}
	if _, err := Encode(1, TypeExecCommand, "bad\x00body"); !errors.Is(err, ErrInvalidBody) {
		t.Errorf("embedded NUL error = %v, want ErrInvalidBody", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid, _ := Encode(3, TypeResponseValue, "ok")

	undersized := make([]byte, 8)
	binary.LittleEndian.PutUint32(undersized, 4) // declared size below minimum

	corrupt := append([]byte(nil), valid...)
	corrupt[len(corrupt)-1] = 'x' // clobber final terminator

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"too short for size prefix", []byte{1, 2, 3}, ErrBufferTooSmall},
		{"declared size below minimum", undersized, ErrInvalidPacketSize},
		{"truncated frame", valid[:len(valid)-3], ErrBufferTooSmall},
		{"missing terminators", corrupt, ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.raw); !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHasCompletePacket(t *testing.T) {
	raw, _ := Encode(5, TypeResponseValue, "hello")

	if HasCompletePacket(raw[:3]) {
		t.Error("3 bytes should not be a complete packet")
	}
	if HasCompletePacket(raw[:len(raw)-1]) {
		t.Error("truncated frame should not be complete")
	}
	if !HasCompletePacket(raw) {
		t.Error("full frame should be complete")
	}

	// Trailing bytes of a following frame do not matter.
	extra := append(append([]byte(nil), raw...), 0x01, 0x02)
	if !HasCompletePacket(extra) {
		t.Error("frame with trailing bytes should be complete")
	}
	if got := FrameLen(extra); got != len(raw) {
		t.Errorf("FrameLen = %d, want %d", got, len(raw))
	}
}
