package cards_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcptools/fcpd/cards"
	"github.com/fcptools/fcpd/engine"
	"github.com/fcptools/fcpd/fcptest"
	"github.com/fcptools/fcpd/internal/log"
)

func newRegistry() *cards.Registry {
	return cards.NewRegistry(slog.Default(), log.NewRaw(nil))
}

func TestAttachAssignsIds(t *testing.T) {
	reg := newRegistry()
	defer reg.Close()

	c0, err := reg.Attach(fcptest.New())
	require.NoError(t, err)
	c1, err := reg.Attach(fcptest.New())
	require.NoError(t, err)

	assert.Equal(t, "card0", c0.ID())
	assert.Equal(t, "card1", c1.ID())
	assert.Equal(t, []string{"card0", "card1"}, reg.List())
	assert.Same(t, c0, reg.Get("card0"))
	assert.Nil(t, reg.Get("card9"))
}

func TestDetachClosesEngine(t *testing.T) {
	reg := newRegistry()
	defer reg.Close()

	c, err := reg.Attach(fcptest.New())
	require.NoError(t, err)

	require.NoError(t, reg.Detach(c.ID()))
	assert.Nil(t, reg.Get(c.ID()))

	_, err = c.Engine().Execute(context.Background(), 0x800, nil, 0)
	assert.ErrorIs(t, err, engine.ErrClosed)

	select {
	case <-c.Context().Done():
	default:
		t.Fatal("card context not cancelled on detach")
	}

	assert.Error(t, reg.Detach(c.ID()))
}

func TestCloseDetachesAll(t *testing.T) {
	reg := newRegistry()
	_, err := reg.Attach(fcptest.New())
	require.NoError(t, err)
	_, err = reg.Attach(fcptest.New())
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	assert.Empty(t, reg.List())
}
