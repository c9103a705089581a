package handler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcptools/fcpd/apiclient"
	"github.com/fcptools/fcpd/cards"
	"github.com/fcptools/fcpd/fcptest"
	"github.com/fcptools/fcpd/internal/server/api"
	"github.com/fcptools/fcpd/internal/server/api/handler"
	handlerTest "github.com/fcptools/fcpd/internal/testing"
)

func registerCardRoutes(r *api.Router, reg *cards.Registry, apiSrv *api.Server) {
	r.Register("card/list", handler.CardList(reg))
	r.Register("card/{id}/init", handler.CardInit(reg))
	r.Register("card/{id}/cmd", handler.CardCmd(reg))
	r.Register("card/{id}/meter-map", handler.CardMeterMap(reg))
	r.Register("card/{id}/meters", handler.CardMeters(reg))
	r.Register("card/{id}/labels", handler.CardLabels(reg))
	r.Register("card/{id}/labels/set", handler.CardLabelsSet(reg))
	r.RegisterStream("card/{id}/notify", handler.NotifyStream())
}

func initCard(t *testing.T, c *apiclient.Transport, id string) {
	t.Helper()
	line, err := c.Do("card/{id}/init", `{"respSize":0}`, map[string]string{"id": id})
	require.NoError(t, err)
	require.JSONEq(t, `{"data":""}`, line)
}

func TestCardList(t *testing.T) {
	addr, reg, done := handlerTest.StartAPIServer(t, registerCardRoutes)
	defer done()

	c := apiclient.NewTransport(addr)
	line, err := c.Do("card/list", nil, nil)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"cards":[]}`, line)

	handlerTest.AttachEmulated(t, reg)
	handlerTest.AttachEmulated(t, reg)

	line, err = c.Do("card/list", nil, nil)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"cards":["card0","card1"]}`, line)
}

func TestCardInit(t *testing.T) {
	tests := []struct {
		name             string
		setup            func(t *testing.T, dev *fcptest.Device)
		card             string
		payload          any
		expectedResponse string
	}{
		{
			name:             "empty probe",
			card:             "card0",
			payload:          `{"respSize":0}`,
			expectedResponse: `{"data":""}`,
		},
		{
			name: "probe data padded to requested size",
			setup: func(t *testing.T, dev *fcptest.Device) {
				dev.SetInitBlob([]byte("FCP!"))
			},
			card:             "card0",
			payload:          `{"respSize":4}`,
			expectedResponse: `{"data":"RkNQIQ=="}`,
		},
		{
			name:             "size above bound",
			card:             "card0",
			payload:          `{"respSize":256}`,
			expectedResponse: `{"status":400,"title":"Bad Request","detail":"init response size 256 out of range [0, 255]"}`,
		},
		{
			name:             "unknown card",
			card:             "card9",
			payload:          `{"respSize":0}`,
			expectedResponse: `{"status":404,"title":"Not Found","detail":"card card9 not found"}`,
		},
		{
			name:             "malformed payload",
			card:             "card0",
			payload:          `{notjson`,
			expectedResponse: `{"status":400,"title":"Bad Request","detail":"invalid init request: invalid character 'n' looking for beginning of object key string"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, reg, done := handlerTest.StartAPIServer(t, registerCardRoutes)
			defer done()
			_, dev := handlerTest.AttachEmulated(t, reg)
			if tt.setup != nil {
				tt.setup(t, dev)
			}

			c := apiclient.NewTransport(addr)
			line, err := c.Do("card/{id}/init", tt.payload, map[string]string{"id": tt.card})
			assert.NoError(t, err)
			assert.JSONEq(t, tt.expectedResponse, line)
		})
	}
}

func TestCardCmd(t *testing.T) {
	addr, reg, done := handlerTest.StartAPIServer(t, registerCardRoutes)
	defer done()
	_, dev := handlerTest.AttachEmulated(t, reg)
	dev.SetHandler(func(opcode uint32, req []byte) []byte {
		if opcode == 0x800 {
			return append([]byte{0xff}, req...)
		}
		return nil
	})

	c := apiclient.NewTransport(addr)
	initCard(t, c, "card0")

	// "AQI=" is [1 2]; the device prepends 0xff, so "/wEC" is [255 1 2].
	line, err := c.Do("card/{id}/cmd",
		`{"opcode":2048,"req":"AQI=","respSize":3}`, map[string]string{"id": "card0"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"resp":"/wEC"}`, line)

	// Declared response size must match what the device produces.
	line, err = c.Do("card/{id}/cmd",
		`{"opcode":2048,"req":"AQI=","respSize":5}`, map[string]string{"id": "card0"})
	assert.NoError(t, err)
	assert.Contains(t, line, `"status":500`)
}

func TestCardCmdValidation(t *testing.T) {
	addr, reg, done := handlerTest.StartAPIServer(t, registerCardRoutes)
	defer done()
	handlerTest.AttachEmulated(t, reg)

	c := apiclient.NewTransport(addr)
	line, err := c.Do("card/{id}/cmd",
		`{"opcode":2048,"respSize":4097}`, map[string]string{"id": "card0"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"status":400,"title":"Bad Request","detail":"response size 4097 out of range [0, 4096]"}`, line)
}
