// Package engine implements the FCP protocol engine for one attached
// device: serialized command/response exchanges, the interrupt-driven
// notification pipeline, and the level-meter translation layer.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fcptools/fcpd/control"
	"github.com/fcptools/fcpd/fcp"
	"github.com/fcptools/fcpd/internal/log"
	"github.com/fcptools/fcpd/transport"
)

const (
	// MaxInitResponse bounds the initialization probe response size.
	MaxInitResponse = 255

	// MaxMeterMapEntries bounds the number of logical channels in a
	// meter map installation.
	MaxMeterMapEntries = 255

	// MaxLabelsSize bounds the opaque meter label blob.
	MaxLabelsSize = 4096

	defaultAckTimeout = time.Second
	defaultRetryUnit  = time.Millisecond
	maxSendAttempts   = 5
)

var (
	// ErrClosed is returned once the engine has been torn down.
	ErrClosed = errors.New("engine: closed")

	// ErrTimeout is returned when the device does not acknowledge a
	// command within the ack wait bound.
	ErrTimeout = errors.New("engine: command timed out")

	// ErrNoMeterMap is returned by ReadMeters before a map is installed.
	ErrNoMeterMap = errors.New("engine: no meter map installed")
)

// ValidationError reports a client-supplied size or map entry rejected
// before any transport activity.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return "engine: " + e.Detail }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Detail: fmt.Sprintf(format, args...)}
}

// ProtocolError reports a response that failed validation against its
// request. Both sides' header fields are carried for diagnosis.
type ProtocolError struct {
	Req          fcp.Header
	Resp         fcp.Header
	ExpectedSize int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf(
		"engine: invalid response; opcode tx/rx %08x/%08x seq %d/%d size %d/%d error %d pad %d",
		e.Req.Opcode, e.Resp.Opcode,
		e.Req.Seq, e.Resp.Seq,
		e.ExpectedSize, e.Resp.Size,
		e.Resp.Error, e.Resp.Pad)
}

// Config carries the engine's collaborators and tunables. Zero values
// select defaults; Controls may be nil when no control framework is
// attached (meter maps still install, no readout control is published).
type Config struct {
	Logger   *slog.Logger
	Raw      log.RawLogger
	Controls control.Registry

	// MeterControlName is the name the readout control is registered
	// under. Defaults to "Level Meter".
	MeterControlName string

	// AckTimeout bounds the wait for the command-acknowledged signal.
	AckTimeout time.Duration

	// RetryUnit scales the exponential transmit backoff (1, 2, 4, 8, 16
	// units). Shrunk in tests.
	RetryUnit time.Duration
}

// Engine is the per-device protocol engine. All exported methods are
// safe for concurrent use; command exchanges are serialized end-to-end
// by a single lock, so only one command is ever in flight.
type Engine struct {
	tr     transport.ControlTransport
	logger *slog.Logger
	raw    log.RawLogger

	ackTimeout time.Duration
	retryUnit  time.Duration

	// mu serializes command exchanges and guards seq, closed, and the
	// meter state. Held for the whole of an exchange, not just the
	// transmit step.
	mu     sync.Mutex
	seq    uint16
	closed bool

	// ack is the one-slot command-acknowledged signal. Drained at the
	// start of each exchange so a stale satisfaction from a timed-out
	// command or a teardown cannot leak into the next one.
	ack chan struct{}

	// intrMu guards the interrupt pipeline state. The completion
	// handler takes only this lock, never mu.
	intrMu sync.Mutex
	armed  bool
	nbuf   []byte

	// notifyMu guards the coalescing notification bitmask.
	notifyMu sync.Mutex
	event    uint32
	wake     chan struct{}
	done     chan struct{}

	closeOnce sync.Once

	// meter state, guarded by mu
	registry   control.Registry
	ctlName    string
	meterCtl   *control.Control
	meterMap   []int16
	meterSlots uint16
	labels     []byte
}

// New creates an engine bound to one device transport. The engine is
// idle until Initialize arms the notification pipeline.
func New(tr transport.ControlTransport, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	raw := cfg.Raw
	if raw == nil {
		raw = log.NewRaw(nil)
	}
	name := cfg.MeterControlName
	if name == "" {
		name = "Level Meter"
	}
	ackTimeout := cfg.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	retryUnit := cfg.RetryUnit
	if retryUnit <= 0 {
		retryUnit = defaultRetryUnit
	}
	return &Engine{
		tr:         tr,
		logger:     logger,
		raw:        raw,
		ackTimeout: ackTimeout,
		retryUnit:  retryUnit,
		registry:   cfg.Controls,
		ctlName:    name,
		ack:        make(chan struct{}, 1),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Close tears the engine down: the outstanding interrupt transfer is
// cancelled synchronously (which releases a command stuck waiting for
// acknowledgement), readers are unblocked, and further calls fail with
// ErrClosed. Close is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		// Cancel before taking mu: a caller may be inside an exchange
		// holding mu and blocked on the ack signal. The cancelled
		// transfer completes with a device-gone status, which satisfies
		// the signal and lets that caller fail out.
		e.tr.CancelInterrupt()

		e.intrMu.Lock()
		e.armed = false
		e.nbuf = nil
		e.intrMu.Unlock()

		e.mu.Lock()
		e.closed = true
		if e.meterCtl != nil && e.registry != nil {
			_ = e.registry.Remove(e.meterCtl)
			e.meterCtl = nil
		}
		e.mu.Unlock()

		close(e.done)
	})
	return nil
}

// Done reports engine teardown to multiplexing waiters.
func (e *Engine) Done() <-chan struct{} { return e.done }
