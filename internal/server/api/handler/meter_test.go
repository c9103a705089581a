package handler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcptools/fcpd/apiclient"
	handlerTest "github.com/fcptools/fcpd/internal/testing"
)

func TestCardMeterMap(t *testing.T) {
	tests := []struct {
		name             string
		payload          any
		expectedResponse string
	}{
		{
			name:             "valid map",
			payload:          `{"map":[2,-1,0],"meterSlots":3}`,
			expectedResponse: `{"channels":3}`,
		},
		{
			name:             "entry out of range",
			payload:          `{"map":[5],"meterSlots":3}`,
			expectedResponse: `{"status":400,"title":"Bad Request","detail":"meter map entry 0 (5) out of range [-1, 3)"}`,
		},
		{
			name:             "entry below -1",
			payload:          `{"map":[-2],"meterSlots":3}`,
			expectedResponse: `{"status":400,"title":"Bad Request","detail":"meter map entry 0 (-2) out of range [-1, 3)"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, reg, done := handlerTest.StartAPIServer(t, registerCardRoutes)
			defer done()
			handlerTest.AttachEmulated(t, reg, 10, 20, 30)

			c := apiclient.NewTransport(addr)
			line, err := c.Do("card/{id}/meter-map", tt.payload, map[string]string{"id": "card0"})
			assert.NoError(t, err)
			assert.JSONEq(t, tt.expectedResponse, line)
		})
	}
}

func TestCardMeters(t *testing.T) {
	addr, reg, done := handlerTest.StartAPIServer(t, registerCardRoutes)
	defer done()
	handlerTest.AttachEmulated(t, reg, 10, 20, 30)

	c := apiclient.NewTransport(addr)
	initCard(t, c, "card0")

	// No readout control before a map is installed.
	line, err := c.Do("card/{id}/meters", nil, map[string]string{"id": "card0"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"status":409,"title":"Conflict","detail":"no meter control registered; install a meter map first"}`, line)

	line, err = c.Do("card/{id}/meter-map", `{"map":[2,-1,0],"meterSlots":3}`, map[string]string{"id": "card0"})
	require.NoError(t, err)
	require.JSONEq(t, `{"channels":3}`, line)

	line, err = c.Do("card/{id}/meters", nil, map[string]string{"id": "card0"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"levels":[30,0,10]}`, line)
}

func TestCardLabels(t *testing.T) {
	addr, reg, done := handlerTest.StartAPIServer(t, registerCardRoutes)
	defer done()
	handlerTest.AttachEmulated(t, reg)

	c := apiclient.NewTransport(addr)

	line, err := c.Do("card/{id}/labels", nil, map[string]string{"id": "card0"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{}`, line)

	// "TWFpbiBMAA==" is "Main L\x00".
	line, err = c.Do("card/{id}/labels/set", `{"labels":"TWFpbiBMAA=="}`, map[string]string{"id": "card0"})
	assert.NoError(t, err)
	assert.Equal(t, "", line)

	line, err = c.Do("card/{id}/labels", nil, map[string]string{"id": "card0"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"labels":"TWFpbiBMAA=="}`, line)

	// Clearing drops the blob.
	line, err = c.Do("card/{id}/labels/set", `{}`, map[string]string{"id": "card0"})
	assert.NoError(t, err)
	assert.Equal(t, "", line)

	line, err = c.Do("card/{id}/labels", nil, map[string]string{"id": "card0"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{}`, line)
}
