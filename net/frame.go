package net

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/d4xyjen/jedi/codec"
)

// Frame layout:
//
//	[len u8]            body <= 255 bytes
//	[0x00][len u16 BE]  larger bodies
//	body = [command u16 LE][payload]
const (
	shortHeaderSize = 1
	longHeaderSize  = 3
	// CommandSize is the width of the command code leading every body.
	CommandSize = 2
	// MaxFrameBody is the largest body the extended header can describe.
	MaxFrameBody = 0xFFFF
)

// HeaderSize is the header width for a body of n bytes.
func HeaderSize(n int) int {
	if n <= 0xFF {
		return shortHeaderSize
	}
	return longHeaderSize
}

// AppendHeader appends the length header of an n byte body.
func AppendHeader(dst []byte, n int) []byte {
	if n <= 0xFF {
		return append(dst, byte(n))
	}
	return append(dst, 0, byte(n>>8), byte(n))
}

// ReadHeader reads one length header. An extended header whose high byte is zero
// describes a body that fits the short form and is rejected.
func ReadHeader(r io.ByteReader) (int, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b != 0 {
		return int(b), nil
	}

	hi, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	lo, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if hi == 0 {
		return 0, fmt.Errorf("%w: extended header with length %d", ErrProtocolViolation, lo)
	}
	return int(hi)<<8 | int(lo), nil
}

// AppendFrame appends a complete frame for command and m to dst. m may be nil for
// commands without a payload.
func AppendFrame(dst []byte, command uint16, m codec.Message) ([]byte, error) {
	start := len(dst)
	dst = append(dst, 0, 0, 0)
	dst = binary.LittleEndian.AppendUint16(dst, command)

	if m != nil {
		var err error
		if dst, err = codec.Append(dst, m); err != nil {
			return dst[:start], err
		}
	}

	body := len(dst) - start - longHeaderSize
	if body > MaxFrameBody {
		return dst[:start], fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, body)
	}
	if body > 0xFF {
		dst[start+1] = byte(body >> 8)
		dst[start+2] = byte(body)
		return dst, nil
	}

	dst[start] = byte(body)
	copy(dst[start+shortHeaderSize:], dst[start+longHeaderSize:])
	return dst[:len(dst)-(longHeaderSize-shortHeaderSize)], nil
}

// GetCommand reads the command code at the start of a body.
func GetCommand(body []byte) (uint16, bool) {
	if len(body) < CommandSize {
		return 0, false
	}
	return binary.LittleEndian.Uint16(body), true
}

// frameBodyLen is the body size of a complete frame built by AppendFrame.
func frameBodyLen(frame []byte) int {
	if frame[0] != 0 {
		return len(frame) - shortHeaderSize
	}
	return len(frame) - longHeaderSize
}
