// Package protocol defines the NOISR wire vocabulary: single-byte control
// codes, the channel selector encoding and the newline-delimited sample frames
// streamed by the device.
package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Control is a single-byte protocol control code.
type Control byte

// Control codes. Values follow the ASCII control characters they are named
// after and are never used as payload.
const (
	Start   Control = 0x01 // SOH
	Pause   Control = 0x03 // ETX
	Stop    Control = 0x04 // EOT
	Enquire Control = 0x05 // ENQ
	OK      Control = 0x06 // ACK
	Sync    Control = 0x16 // SYN
	Error   Control = 0x21 // '!'
)

// FrameDelimiter terminates every streamed sample frame.
const FrameDelimiter = '\n'

// ErrFrameDecode is matched by every *FrameDecodeError.
var ErrFrameDecode = errors.New("protocol: frame decode error")

// ErrChannelLength is returned when a channel selector is not exactly one byte.
var ErrChannelLength = errors.New("protocol: channel selector must be one byte")

var controlNames = map[Control]string{
	Start:   "START",
	Pause:   "PAUSE",
	Stop:    "STOP",
	Enquire: "ENQUIRE",
	OK:      "OK",
	Sync:    "SYNC",
	Error:   "ERROR",
}

// Controls returns every control code in ascending byte order.
func Controls() []Control {
	return []Control{Start, Pause, Stop, Enquire, OK, Sync, Error}
}

func (c Control) String() string {
	if name, ok := controlNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Control(0x%02X)", byte(c))
}

// Bytes returns the control code as a one byte slice ready to be written.
func (c Control) Bytes() []byte {
	return []byte{byte(c)}
}

// IsControl reports whether b is one of the protocol control codes.
func IsControl(b byte) bool {
	_, ok := controlNames[Control(b)]
	return ok
}

// EncodeChannel encodes a channel selector. The selector is a single unsigned
// byte for both the handshake and the stream start, so it has no byte order.
func EncodeChannel(channel uint8) []byte {
	return []byte{channel}
}

// DecodeChannel is the device-side inverse of EncodeChannel.
func DecodeChannel(b []byte) (uint8, error) {
	if len(b) != 1 {
		return 0, fmt.Errorf("%w: got %d bytes", ErrChannelLength, len(b))
	}
	return b[0], nil
}

// FrameDecodeError describes a sample frame that could not be parsed.
type FrameDecodeError struct {
	Frame string
	Err   error
}

func (e *FrameDecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol: malformed sample frame %q", e.Frame)
	}
	return fmt.Sprintf("protocol: malformed sample frame %q: %v", e.Frame, e.Err)
}

func (e *FrameDecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFrameDecode}
	}
	return []error{ErrFrameDecode, e.Err}
}

// DecodeSample parses one sample frame. Surrounding whitespace, including the
// delimiter and a trailing carriage return, is ignored.
func DecodeSample(frame string) (float64, error) {
	token := strings.TrimSpace(frame)
	if token == "" {
		return 0, &FrameDecodeError{Frame: frame, Err: errors.New("empty frame")}
	}

	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, &FrameDecodeError{Frame: frame, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &FrameDecodeError{Frame: frame, Err: errors.New("non-finite value")}
	}

	return v, nil
}

// EncodeSample renders a sample the way the device sends it.
func EncodeSample(v float64) []byte {
	b := strconv.AppendFloat(nil, v, 'f', -1, 64)
	return append(b, FrameDelimiter)
}
