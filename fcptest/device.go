// Package fcptest provides an in-process emulated FCP device behind the
// transport.ControlTransport interface. It reproduces the device-side
// protocol behavior the engine depends on: the asynchronous command
// acknowledgement over the interrupt endpoint, the two-phase response
// fetch, meter reads, the initialization sequence quirk, and the way a
// reboot severs the control channel. The daemon uses it for --emulate
// and the tests use it as their device double.
package fcptest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/fcptools/fcpd/fcp"
	"github.com/fcptools/fcpd/transport"
)

// CommandHandler produces the response payload for an opcode the
// emulated device has no built-in behavior for.
type CommandHandler func(opcode uint32, req []byte) []byte

// Device is an emulated FCP device. All fields prefixed with Set are
// configured through methods; the zero value from New is usable.
type Device struct {
	mu sync.Mutex

	initBlob  []byte
	levels    []int32
	handler   CommandHandler
	quirkSeq  bool // respond to seq 1 with seq 0, once
	protoLeft int  // remaining transmits to fail with ErrProto
	gone      bool

	pending []byte // encoded response awaiting the fetch transfer

	intrBuf      []byte
	intrComplete transport.CompletionFunc
}

// New creates an emulated device with the given raw meter slot levels.
func New(levels ...int32) *Device {
	return &Device{levels: levels}
}

// SetInitBlob sets the initialization probe response content.
func (d *Device) SetInitBlob(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initBlob = append([]byte(nil), b...)
}

// SetLevels replaces the raw meter slot levels.
func (d *Device) SetLevels(levels ...int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.levels = append([]int32(nil), levels...)
}

// SetHandler installs a fallback responder for opcodes without
// built-in behavior (anything other than meter read and reboot).
func (d *Device) SetHandler(h CommandHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// FailTransmits makes the next n OUT control transfers fail with the
// transient protocol error.
func (d *Device) FailTransmits(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.protoLeft = n
}

// EnableInitSeqQuirk arms the firmware off-by-one: the next request
// carrying sequence 1 is answered with sequence 0.
func (d *Device) EnableInitSeqQuirk() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quirkSeq = true
}

// Gone reports whether the device has disappeared (after a reboot or
// an explicit Unplug).
func (d *Device) Gone() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gone
}

// Unplug makes the device disappear: all transfers fail with the
// device-gone family and the outstanding interrupt transfer completes
// with a removed status.
func (d *Device) Unplug() {
	d.mu.Lock()
	d.gone = true
	d.mu.Unlock()
	d.completeInterrupt(transport.ErrRemoved, 0)
}

// Notify delivers device-state-change bits through the interrupt
// endpoint, as the hardware does when its state changes.
func (d *Device) Notify(bits uint32) {
	d.completeInterrupt(nil, bits)
}

// --

// SendControl accepts a request packet, queues the response, and
// acknowledges the command asynchronously via the interrupt endpoint.
func (d *Device) SendControl(ctx context.Context, request uint8, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if request != fcp.ReqTx {
		return 0, fmt.Errorf("fcptest: unexpected OUT request %d", request)
	}

	d.mu.Lock()
	if d.gone {
		d.mu.Unlock()
		return 0, transport.ErrShutdown
	}
	if d.protoLeft > 0 {
		d.protoLeft--
		d.mu.Unlock()
		return 0, transport.ErrProto
	}

	h, payload, err := fcp.Decode(data)
	if err != nil {
		d.mu.Unlock()
		return 0, transport.ErrProto
	}

	respSeq := h.Seq
	if d.quirkSeq && h.Seq == 1 {
		respSeq = 0
		d.quirkSeq = false
	}

	var respPayload []byte
	reboot := false
	switch h.Opcode {
	case fcp.OpGetMeter:
		respPayload = d.meterPayload(payload)
	case fcp.OpReboot:
		reboot = true
	default:
		if d.handler != nil {
			respPayload = d.handler(h.Opcode, payload)
		}
	}
	d.pending = fcp.Encode(fcp.Header{Opcode: h.Opcode, Seq: respSeq}, respPayload)
	d.mu.Unlock()

	// The device raises the acknowledgement on its interrupt endpoint
	// after accepting the command; a reboot then severs the control
	// channel before the response can be read.
	go func() {
		if reboot {
			d.mu.Lock()
			d.gone = true
			d.mu.Unlock()
		}
		d.completeInterrupt(nil, fcp.NotifyAck)
		if reboot {
			d.completeInterrupt(transport.ErrShutdown, 0)
		}
	}()

	return len(data), nil
}

// meterPayload builds the raw slot array for a meter-read request,
// honoring the requested slot count. mu must be held.
func (d *Device) meterPayload(req []byte) []byte {
	slots := 0
	if len(req) >= 4 {
		slots = int(binary.LittleEndian.Uint16(req[2:]))
	}
	out := make([]byte, slots*4)
	for i := 0; i < slots && i < len(d.levels); i++ {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(d.levels[i]))
	}
	return out
}

// RecvControl serves the initialization probe and the response fetch.
func (d *Device) RecvControl(ctx context.Context, request uint8, size int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return nil, transport.ErrShutdown
	}

	switch request {
	case fcp.ReqInit:
		out := make([]byte, size)
		copy(out, d.initBlob)
		return out, nil
	case fcp.ReqRx:
		if d.pending == nil {
			return nil, transport.ErrProto
		}
		resp := d.pending
		d.pending = nil
		if len(resp) > size {
			resp = resp[:size]
		}
		return resp, nil
	}
	return nil, fmt.Errorf("fcptest: unexpected IN request %d", request)
}

// SubmitInterrupt arms the interrupt endpoint with a completion that
// fires once on the next acknowledgement, notification, or teardown.
func (d *Device) SubmitInterrupt(buf []byte, complete transport.CompletionFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return transport.ErrShutdown
	}
	if d.intrComplete != nil {
		return fmt.Errorf("fcptest: interrupt transfer already submitted")
	}
	d.intrBuf = buf
	d.intrComplete = complete
	return nil
}

// CancelInterrupt completes the outstanding transfer with a reset
// status before returning.
func (d *Device) CancelInterrupt() {
	d.completeInterrupt(transport.ErrConnReset, 0)
}

// MaxPacketSize reports the interrupt endpoint packet size.
func (d *Device) MaxPacketSize() int { return 64 }

// completeInterrupt fires the armed completion exactly once with the
// given status, writing the notification word into the transfer buffer
// on success. The completion runs without the device lock held so it
// may resubmit.
func (d *Device) completeInterrupt(status error, bits uint32) {
	d.mu.Lock()
	complete := d.intrComplete
	buf := d.intrBuf
	d.intrComplete = nil
	d.intrBuf = nil
	d.mu.Unlock()

	if complete == nil {
		return
	}
	var data []byte
	if status == nil {
		if len(buf) < fcp.NotifyLen {
			buf = make([]byte, fcp.NotifyLen)
		}
		for i := 0; i < fcp.NotifyLen; i++ {
			buf[i] = 0
		}
		binary.LittleEndian.PutUint32(buf, bits)
		data = buf[:fcp.NotifyLen]
	}
	complete(status, data)
}
