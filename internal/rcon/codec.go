// Package rcon implements the Source-style remote console protocol used to
// administer the Valheim dedicated server: the binary packet codec, a TCP
// client that performs the auth handshake and request/response correlation,
// and a connection manager with auto-reconnect and player-list polling.
// All packets use little-endian byte order with a 4-byte length prefix.
package rcon

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Packet type constants, following the upstream Source RCON convention.
// AuthResponse and ResponseValue share the wire values used by the server.
const (
	TypeResponseValue int32 = 0
	TypeExecCommand   int32 = 2
	TypeAuthResponse  int32 = 2
	TypeAuth          int32 = 3
)

const (
	// MaxBodySize is the client-side cap on a packet body.
	MaxBodySize = 4096

	// MinPacketSize is the smallest valid declared packet size:
	// 4-byte id + 4-byte type + two terminator bytes.
	MinPacketSize = 10

	// AuthFailedID is the sentinel id echoed in an AUTH_RESPONSE when the
	// password was rejected.
	AuthFailedID int32 = -1

	headerSize = 4 // length prefix, excluded from the declared size
)

// Codec contract violations and protocol errors.
var (
	ErrInvalidBody       = errors.New("rcon: invalid packet body")
	ErrBufferTooSmall    = errors.New("rcon: buffer too small")
	ErrInvalidPacketSize = errors.New("rcon: invalid packet size")
	ErrProtocol          = errors.New("rcon: protocol error")
)

// Packet is a decoded RCON packet. The id is a client-chosen correlation
// token echoed back by the server.
type Packet struct {
	ID   int32
	Type int32
	Body string
}

// Encode serializes a packet into its wire frame:
// int32 LE size | int32 LE id | int32 LE type | body | 0x00 | 0x00.
// The declared size excludes the size field itself.
func Encode(id, packetType int32, body string) ([]byte, error) {
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("%w: body length %d exceeds %d", ErrInvalidBody, len(body), MaxBodySize)
	}
	for i := 0; i < len(body); i++ {
		if body[i] == 0 {
			return nil, fmt.Errorf("%w: body contains terminator byte at offset %d", ErrInvalidBody, i)
		}
	}

	size := int32(MinPacketSize + len(body))
	buf := make([]byte, headerSize+size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(id))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(packetType))
	copy(buf[12:], body)
	// Trailing two terminator bytes are already zero in the fresh slice.
	return buf, nil
}

// Decode parses one complete wire frame from the front of buf.
// It fails with ErrInvalidPacketSize if the declared size is below the
// 10-byte minimum, and with ErrBufferTooSmall if buf does not contain the
// whole declared frame.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < headerSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, need at least %d for size prefix", ErrBufferTooSmall, len(buf), headerSize)
	}

	size := int32(binary.LittleEndian.Uint32(buf[0:4]))
	if size < MinPacketSize {
		return Packet{}, fmt.Errorf("%w: declared size %d below minimum %d", ErrInvalidPacketSize, size, MinPacketSize)
	}
	if int32(len(buf)) < headerSize+size {
		return Packet{}, fmt.Errorf("%w: have %d bytes, frame declares %d", ErrBufferTooSmall, len(buf), headerSize+size)
	}

	end := headerSize + size
	if buf[end-2] != 0 || buf[end-1] != 0 {
		return Packet{}, fmt.Errorf("%w: missing terminator bytes", ErrProtocol)
	}

	return Packet{
		ID:   int32(binary.LittleEndian.Uint32(buf[4:8])),
		Type: int32(binary.LittleEndian.Uint32(buf[8:12])),
		Body: string(buf[12 : end-2]),
	}, nil
}

// HasCompletePacket reports whether buf starts with one complete frame.
// It peeks the 4-byte size prefix without consuming it, supporting streamed
// reads where a frame spans multiple reads or several frames arrive at once.
func HasCompletePacket(buf []byte) bool {
	if len(buf) < headerSize {
		return false
	}
	size := int32(binary.LittleEndian.Uint32(buf[0:4]))
	return int32(len(buf)) >= headerSize+size
}

// FrameLen returns the total byte length of the frame at the front of buf,
// including the size prefix. It must only be called when HasCompletePacket
// returned true.
func FrameLen(buf []byte) int {
	return headerSize + int(int32(binary.LittleEndian.Uint32(buf[0:4])))
}
