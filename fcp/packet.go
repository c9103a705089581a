// Package fcp implements the FCP wire format: the fixed little-endian
// command header and the opcodes and notification bits the engine needs
// to recognize. Everything here is stateless; sequencing and transport
// live in the engine package.
package fcp

import (
	"encoding/binary"
	"fmt"
)

// Wire constants (little-endian)
const (
	// HeaderSize is the fixed command header length in bytes.
	HeaderSize = 16

	// Vendor-specific control request codes
	ReqInit = 0
	ReqTx   = 2
	ReqRx   = 3

	// Opcodes the engine itself must recognize
	OpInit1    = 0x00000000
	OpReboot   = 0x00000003
	OpGetMeter = 0x00001001

	// Magic value carried in the meter-read request payload
	MeterMagic = 1

	// NotifyAck is the command-acknowledged bit in a notification word.
	NotifyAck = 0x00000001

	// NotifyLen is the expected interrupt completion length; shorter or
	// longer completions are ignored.
	NotifyLen = 8

	// MaxPayload bounds request and response payload sizes accepted from
	// a client.
	MaxPayload = 4096
)

// Header field offsets within the encoded packet.
const (
	offOpcode = 0
	offSize   = 4
	offSeq    = 6
	offError  = 8
	offPad    = 12
)

// Header is the decoded FCP command header. Requests and responses share
// the layout; Error and Pad must be zero on a valid response.
type Header struct {
	Opcode uint32
	Size   uint16
	Seq    uint16
	Error  uint32
	Pad    uint32
}

// Encode serializes a header plus payload into a transmissible buffer.
// The header's Size field is taken from len(payload), not from h.Size.
func Encode(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[offOpcode:], h.Opcode)
	binary.LittleEndian.PutUint16(buf[offSize:], uint16(len(payload)))
	binary.LittleEndian.PutUint16(buf[offSeq:], h.Seq)
	binary.LittleEndian.PutUint32(buf[offError:], h.Error)
	binary.LittleEndian.PutUint32(buf[offPad:], h.Pad)
	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode splits a received buffer into header fields and payload. The
// payload is a view into buf, not a copy. Buffers shorter than the fixed
// header are rejected; the payload view is truncated to the buffer even
// if the declared Size is larger (the engine validates declared size
// against the caller's expectation separately).
func Decode(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, fmt.Errorf("fcp: short packet: %d bytes (header is %d)", len(buf), HeaderSize)
	}
	h := Header{
		Opcode: binary.LittleEndian.Uint32(buf[offOpcode:]),
		Size:   binary.LittleEndian.Uint16(buf[offSize:]),
		Seq:    binary.LittleEndian.Uint16(buf[offSeq:]),
		Error:  binary.LittleEndian.Uint32(buf[offError:]),
		Pad:    binary.LittleEndian.Uint32(buf[offPad:]),
	}
	return h, buf[HeaderSize:], nil
}

// NotifyWord extracts the notification bitmask from an interrupt
// completion. Completions that are not exactly NotifyLen bytes carry no
// usable data and report ok=false.
func NotifyWord(data []byte) (word uint32, ok bool) {
	if len(data) != NotifyLen {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data[:4]), true
}

// MeterRequest builds the payload for an OpGetMeter command requesting
// the given number of raw meter slots.
func MeterRequest(slots uint16) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint16(buf[2:], slots)
	binary.LittleEndian.PutUint32(buf[4:], MeterMagic)
	return buf
}

// MeterLevels decodes an OpGetMeter response payload into raw slot
// values.
func MeterLevels(payload []byte) ([]int32, error) {
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("fcp: meter payload length %d not a multiple of 4", len(payload))
	}
	out := make([]int32, len(payload)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return out, nil
}
