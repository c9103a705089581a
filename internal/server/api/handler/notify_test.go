package handler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcptools/fcpd/apiclient"
	handlerTest "github.com/fcptools/fcpd/internal/testing"
)

func TestNotifyStream(t *testing.T) {
	addr, reg, done := handlerTest.StartAPIServer(t, registerCardRoutes)
	defer done()
	_, dev := handlerTest.AttachEmulated(t, reg)

	tr := apiclient.NewTransport(addr)
	initCard(t, tr, "card0")

	c := apiclient.New(addr)
	stream, err := c.CardNotify("card0")
	require.NoError(t, err)
	defer stream.Close()

	dev.Notify(0x2)
	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2), ev.Bits)

	// Bits raised between deliveries coalesce into one event.
	dev.Notify(0x4)
	dev.Notify(0x8)
	ev, err = stream.Next()
	require.NoError(t, err)
	assert.NotZero(t, ev.Bits&0x4)
}

func TestNotifyStreamUnknownCard(t *testing.T) {
	addr, _, done := handlerTest.StartAPIServer(t, registerCardRoutes)
	defer done()

	line := handlerTest.ExecCmd(t, addr, "card/card9/notify")
	assert.JSONEq(t, `{"status":404,"title":"Not Found","detail":"card card9 not found"}`, line)
}

func TestNotifyStreamEndsOnDetach(t *testing.T) {
	addr, reg, done := handlerTest.StartAPIServer(t, registerCardRoutes)
	defer done()
	card, _ := handlerTest.AttachEmulated(t, reg)

	tr := apiclient.NewTransport(addr)
	initCard(t, tr, "card0")

	c := apiclient.New(addr)
	stream, err := c.CardNotify("card0")
	require.NoError(t, err)
	defer stream.Close()

	// Give the stream handler time to enter its read loop, then detach.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, reg.Detach(card.ID()))

	_, err = stream.Next()
	assert.Error(t, err)
}
