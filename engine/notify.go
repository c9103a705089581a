package engine

import (
	"context"

	"github.com/fcptools/fcpd/fcp"
	"github.com/fcptools/fcpd/transport"
)

// arm submits the long-lived interrupt transfer. Arming when already
// armed is a no-op success.
func (e *Engine) arm() error {
	e.intrMu.Lock()
	defer e.intrMu.Unlock()
	if e.armed {
		return nil
	}
	if e.nbuf == nil {
		size := e.tr.MaxPacketSize()
		if size < fcp.NotifyLen {
			size = fcp.NotifyLen
		}
		e.nbuf = make([]byte, size)
	}
	if err := e.tr.SubmitInterrupt(e.nbuf, e.onInterrupt); err != nil {
		return err
	}
	e.armed = true
	return nil
}

// onInterrupt is the interrupt transfer completion handler. It runs on
// the transport's delivery goroutine and must not block: it interprets
// the notification word, resubmits, and returns. It never takes mu.
func (e *Engine) onInterrupt(status error, data []byte) {
	if status == nil {
		if word, ok := fcp.NotifyWord(data); ok {
			if word&fcp.NotifyAck != 0 {
				e.signalAck()
				word &^= fcp.NotifyAck
			}
			if word != 0 {
				e.queueEvent(word)
			}
		}
	}

	// A completion with an error status or a malformed length still
	// resubmits; only a deliberate teardown of the endpoint stops the
	// pipeline, and then a command blocked on the ack signal must be
	// released rather than left hanging.
	if status != nil && transport.IsDeviceGone(status) {
		e.intrMu.Lock()
		e.armed = false
		e.intrMu.Unlock()
		e.signalAck()
		return
	}

	e.intrMu.Lock()
	buf := e.nbuf
	e.intrMu.Unlock()
	if buf == nil {
		return
	}
	if err := e.tr.SubmitInterrupt(buf, e.onInterrupt); err != nil {
		e.intrMu.Lock()
		e.armed = false
		e.intrMu.Unlock()
		e.logger.Error("notification resubmit failed", "error", err)
		e.signalAck()
	}
}

// signalAck satisfies the one-slot ack signal without blocking.
func (e *Engine) signalAck() {
	select {
	case e.ack <- struct{}{}:
	default:
	}
}

// queueEvent ORs device-state-change bits into the accumulated bitmask
// and wakes a pending reader.
func (e *Engine) queueEvent(bits uint32) {
	e.notifyMu.Lock()
	e.event |= bits
	e.notifyMu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// ReadNotify blocks until at least one device-state-change bit has
// accumulated, then returns the bits and clears them. Events delivered
// between reads coalesce into a single OR-combined value; a read never
// replays history.
func (e *Engine) ReadNotify(ctx context.Context) (uint32, error) {
	for {
		e.notifyMu.Lock()
		if e.event != 0 {
			ev := e.event
			e.event = 0
			e.notifyMu.Unlock()
			return ev, nil
		}
		e.notifyMu.Unlock()

		select {
		case <-e.wake:
		case <-e.done:
			return 0, ErrClosed
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// NotifyPending is the readiness check for multiplexing waiters: it
// reports, without draining, whether a read would return immediately.
func (e *Engine) NotifyPending() bool {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	return e.event != 0
}
