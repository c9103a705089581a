package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fcptools/fcpd/fcp"
	"github.com/fcptools/fcpd/transport"
)

// Execute performs one FCP command exchange: transmit the request,
// wait for the asynchronous acknowledgement, fetch and validate the
// response. respSize is the exact payload size the caller expects; any
// other declared size in the response is a protocol violation.
//
// Callers are serialized: the device lock is held for the whole
// exchange, so concurrent Execute calls never interleave their
// transmit/ack/response phases.
func (e *Engine) Execute(ctx context.Context, opcode uint32, req []byte, respSize int) ([]byte, error) {
	if len(req) > fcp.MaxPayload {
		return nil, validationErrorf("request payload %d exceeds %d bytes", len(req), fcp.MaxPayload)
	}
	if respSize < 0 || respSize > fcp.MaxPayload {
		return nil, validationErrorf("response size %d out of range [0, %d]", respSize, fcp.MaxPayload)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exchange(ctx, opcode, req, respSize)
}

// exchange runs one request/response cycle. mu must be held.
func (e *Engine) exchange(ctx context.Context, opcode uint32, req []byte, respSize int) ([]byte, error) {
	if e.closed {
		return nil, ErrClosed
	}

	// sequence goes up by 1 for each request
	seq := e.seq
	e.seq++

	pkt := fcp.Encode(fcp.Header{Opcode: opcode, Seq: seq}, req)

	// Reset the one-slot ack signal before use so a satisfaction left
	// over from a previous timeout or teardown is not mistaken for this
	// command's acknowledgement.
	select {
	case <-e.ack:
	default:
	}

	if err := e.send(ctx, opcode, pkt); err != nil {
		return nil, err
	}

	if err := e.waitAck(ctx, opcode); err != nil {
		return nil, err
	}

	return e.receive(ctx, opcode, seq, respSize)
}

// send transmits the request, retrying on the transient transport error
// with exponential backoff (1, 2, 4, 8, 16 units, 5 attempts).
func (e *Engine) send(ctx context.Context, opcode uint32, pkt []byte) error {
	e.raw.Log(false, pkt)

	var err error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(e.retryUnit << (attempt - 1))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}

		var n int
		n, err = e.tr.SendControl(ctx, fcp.ReqTx, pkt)
		if errors.Is(err, transport.ErrProto) {
			continue
		}
		if err == nil && n != len(pkt) {
			err = fmt.Errorf("short write: %d of %d bytes", n, len(pkt))
		}
		break
	}
	if err != nil {
		e.logger.Error("FCP request failed", "opcode", fmt.Sprintf("%08x", opcode), "error", err)
		return fmt.Errorf("request %08x: %w", opcode, err)
	}
	return nil
}

// waitAck blocks until the notification pipeline reports the
// command-acknowledged bit, bounded by the ack timeout.
func (e *Engine) waitAck(ctx context.Context, opcode uint32) error {
	t := time.NewTimer(e.ackTimeout)
	defer t.Stop()
	select {
	case <-e.ack:
		return nil
	case <-t.C:
		e.logger.Error("FCP request timed out", "opcode", fmt.Sprintf("%08x", opcode))
		return fmt.Errorf("request %08x: %w", opcode, ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receive performs the response transfer and validates the result
// against the request. On the reboot opcode, a device-gone or transient
// failure is the expected outcome of a successful reboot and yields an
// empty response.
func (e *Engine) receive(ctx context.Context, opcode uint32, seq uint16, respSize int) ([]byte, error) {
	want := fcp.HeaderSize + respSize
	buf, err := e.tr.RecvControl(ctx, fcp.ReqRx, want)
	if err != nil {
		if opcode == fcp.OpReboot &&
			(transport.IsDeviceGone(err) || errors.Is(err, transport.ErrProto)) {
			return nil, nil
		}
		e.logger.Error("FCP response failed",
			"opcode", fmt.Sprintf("%08x", opcode), "expected", want, "error", err)
		return nil, fmt.Errorf("response %08x: %w", opcode, err)
	}
	e.raw.Log(true, buf)

	h, payload, err := fcp.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("response %08x: %w", opcode, err)
	}

	// opcode/seq/size must match, except for the very first exchange
	// after initialization: the request carries seq 1 and the device
	// legally responds with seq 0.
	reqHdr := fcp.Header{Opcode: opcode, Size: 0, Seq: seq}
	if h.Opcode != opcode ||
		(h.Seq != seq && !(seq == 1 && h.Seq == 0)) ||
		int(h.Size) != respSize ||
		len(payload) != respSize ||
		h.Error != 0 ||
		h.Pad != 0 {
		perr := &ProtocolError{Req: reqHdr, Resp: h, ExpectedSize: respSize}
		e.logger.Error("FCP response invalid",
			"opcode_tx", fmt.Sprintf("%08x", reqHdr.Opcode),
			"opcode_rx", fmt.Sprintf("%08x", h.Opcode),
			"seq_tx", reqHdr.Seq, "seq_rx", h.Seq,
			"size_expected", respSize, "size_rx", h.Size,
			"error", h.Error, "pad", h.Pad)
		return nil, perr
	}

	return payload, nil
}

// Initialize performs the initialization probe: a direct IN control
// transfer of up to MaxInitResponse bytes. On success the sequence
// counter resets to 0 and the notification pipeline is armed (a no-op
// when already armed).
func (e *Engine) Initialize(ctx context.Context, respSize int) ([]byte, error) {
	if respSize < 0 || respSize > MaxInitResponse {
		return nil, validationErrorf("init response size %d out of range [0, %d]", respSize, MaxInitResponse)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	resp, err := e.tr.RecvControl(ctx, fcp.ReqInit, respSize)
	if err != nil {
		return nil, fmt.Errorf("init probe: %w", err)
	}
	e.raw.Log(true, resp)

	e.seq = 0
	if err := e.arm(); err != nil {
		return nil, fmt.Errorf("arm notifications: %w", err)
	}
	return resp, nil
}
