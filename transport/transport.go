// Package transport defines the control-transfer boundary between the
// FCP engine and whatever carries the bytes to the device (usbfs, a
// remote proxy, or the emulated device used in tests). Implementations
// own no protocol semantics; they move buffers and translate their
// native failure codes onto the sentinel errors below so the engine can
// recognize the two families it cares about by identity.
package transport

import (
	"context"
	"errors"
)

// Sentinel transport errors. ErrProto is the transient failure mode the
// engine retries transmits on. The remaining three form the device-gone
// family reported when an endpoint is removed, reset, or shut down.
var (
	ErrProto     = errors.New("transport: protocol error")
	ErrRemoved   = errors.New("transport: endpoint removed")
	ErrConnReset = errors.New("transport: connection reset")
	ErrShutdown  = errors.New("transport: shut down")
)

// IsDeviceGone reports whether err belongs to the device-gone family.
func IsDeviceGone(err error) bool {
	return errors.Is(err, ErrRemoved) ||
		errors.Is(err, ErrConnReset) ||
		errors.Is(err, ErrShutdown)
}

// CompletionFunc receives the outcome of one interrupt transfer. status
// is nil on success; data is the transferred bytes and remains valid
// only for the duration of the call. Completion handlers run on the
// transport's delivery goroutine and must not block.
type CompletionFunc func(status error, data []byte)

// ControlTransport is the engine's view of one device's vendor-specific
// control interface.
type ControlTransport interface {
	// SendControl performs a blocking OUT control transfer carrying the
	// given vendor request code and returns the number of bytes the
	// device accepted.
	SendControl(ctx context.Context, request uint8, data []byte) (int, error)

	// RecvControl performs a blocking IN control transfer of up to size
	// bytes for the given vendor request code.
	RecvControl(ctx context.Context, request uint8, size int) ([]byte, error)

	// SubmitInterrupt submits one interrupt IN transfer into buf. The
	// completion callback fires exactly once per submission; resubmission
	// is the caller's decision.
	SubmitInterrupt(buf []byte, complete CompletionFunc) error

	// CancelInterrupt synchronously cancels an outstanding interrupt
	// transfer. The pending completion fires with a device-gone status
	// before CancelInterrupt returns.
	CancelInterrupt()

	// MaxPacketSize returns the interrupt endpoint's packet size, used
	// to size the notification buffer.
	MaxPacketSize() int
}
