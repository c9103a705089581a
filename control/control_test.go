package control_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcptools/fcpd/control"
)

func TestMemoryRegistryAdd(t *testing.T) {
	r := control.NewMemoryRegistry()

	require.NoError(t, r.Add(&control.Control{Name: "Level Meter", Channels: 4}))
	assert.NotNil(t, r.Lookup("Level Meter"))

	assert.Error(t, r.Add(nil))
	assert.Error(t, r.Add(&control.Control{Name: "", Channels: 1}))
	assert.Error(t, r.Add(&control.Control{Name: "No Channels", Channels: 0}))
	assert.Error(t, r.Add(&control.Control{Name: "Level Meter", Channels: 2}))
}

func TestMemoryRegistryRemove(t *testing.T) {
	r := control.NewMemoryRegistry()
	ctl := &control.Control{Name: "Level Meter", Channels: 4}
	require.NoError(t, r.Add(ctl))

	// Removal requires the same registered control, not just the name.
	other := &control.Control{Name: "Level Meter", Channels: 4}
	assert.Error(t, r.Remove(other))
	assert.NotNil(t, r.Lookup("Level Meter"))

	assert.NoError(t, r.Remove(ctl))
	assert.Nil(t, r.Lookup("Level Meter"))
	assert.Error(t, r.Remove(ctl))
}

func TestMemoryRegistryNames(t *testing.T) {
	r := control.NewMemoryRegistry()
	require.NoError(t, r.Add(&control.Control{Name: "b", Channels: 1}))
	require.NoError(t, r.Add(&control.Control{Name: "a", Channels: 1}))
	require.NoError(t, r.Add(&control.Control{Name: "c", Channels: 1}))

	assert.Equal(t, []string{"a", "b", "c"}, r.Names())
}
