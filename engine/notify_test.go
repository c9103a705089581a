package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcptools/fcpd/engine"
	"github.com/fcptools/fcpd/fcp"
	"github.com/fcptools/fcpd/fcptest"
)

func TestNotifyDelivery(t *testing.T) {
	dev := fcptest.New()
	e := initEngine(t, dev)

	dev.Notify(0x2)
	bits, err := e.ReadNotify(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x2), bits)
}

func TestNotifyCoalescing(t *testing.T) {
	dev := fcptest.New()
	e := initEngine(t, dev)

	// Bits arriving between reads accumulate into one OR-combined value.
	dev.Notify(0x4)
	dev.Notify(0x8)
	dev.Notify(0x4)

	bits, err := e.ReadNotify(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, uint32(0xc), bits)

	// The read drained everything; nothing is replayed.
	assert.False(t, e.NotifyPending())
}

func TestNotifyAckBitNeverSurfaces(t *testing.T) {
	dev := fcptest.New()
	e := initEngine(t, dev)

	dev.Notify(fcp.NotifyAck | 0x10)
	bits, err := e.ReadNotify(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x10), bits)
}

func TestNotifyAckOnlyQueuesNothing(t *testing.T) {
	dev := fcptest.New()
	e := initEngine(t, dev)

	dev.Notify(fcp.NotifyAck)
	assert.False(t, e.NotifyPending())
}

func TestReadNotifyBlocksUntilEvent(t *testing.T) {
	dev := fcptest.New()
	e := initEngine(t, dev)

	got := make(chan uint32, 1)
	go func() {
		bits, err := e.ReadNotify(context.Background())
		require.NoError(t, err)
		got <- bits
	}()

	time.Sleep(20 * time.Millisecond)
	dev.Notify(0x40)

	select {
	case bits := <-got:
		assert.Equal(t, uint32(0x40), bits)
	case <-time.After(2 * time.Second):
		t.Fatal("reader not woken by notification")
	}
}

func TestReadNotifyContextCancel(t *testing.T) {
	e := initEngine(t, fcptest.New())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.ReadNotify(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadNotifyUnblockedByClose(t *testing.T) {
	e := initEngine(t, fcptest.New())

	result := make(chan error, 1)
	go func() {
		_, err := e.ReadNotify(context.Background())
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = e.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, engine.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("reader not released by Close")
	}
}

func TestNotifyPending(t *testing.T) {
	dev := fcptest.New()
	e := initEngine(t, dev)

	assert.False(t, e.NotifyPending())
	dev.Notify(0x2)
	assert.True(t, e.NotifyPending())

	// Pending is a readiness check, not a drain.
	assert.True(t, e.NotifyPending())

	_, err := e.ReadNotify(context.Background())
	require.NoError(t, err)
	assert.False(t, e.NotifyPending())
}
