package handler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fcptools/fcpd/apiclient"
	"github.com/fcptools/fcpd/cards"
	"github.com/fcptools/fcpd/internal/server/api"
	"github.com/fcptools/fcpd/internal/server/api/handler"
	handlerTest "github.com/fcptools/fcpd/internal/testing"
)

func TestPing(t *testing.T) {
	addr, _, done := handlerTest.StartAPIServer(t, func(r *api.Router, reg *cards.Registry, apiSrv *api.Server) {
		r.Register("ping", handler.Ping())
	})
	defer done()

	c := apiclient.NewTransport(addr)
	line, err := c.Do("ping", nil, nil)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"server":"fcpd","version":"2.0.0"}`, line)
}

func TestVersion(t *testing.T) {
	addr, _, done := handlerTest.StartAPIServer(t, func(r *api.Router, reg *cards.Registry, apiSrv *api.Server) {
		r.Register("version", handler.Version())
	})
	defer done()

	c := apiclient.NewTransport(addr)
	line, err := c.Do("version", nil, nil)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"version":131072,"major":2,"minor":0,"subminor":0}`, line)
}

func TestUnknownPath(t *testing.T) {
	addr, _, done := handlerTest.StartAPIServer(t, nil)
	defer done()

	line := handlerTest.ExecCmd(t, addr, "no/such/path")
	assert.JSONEq(t, `{"status":404,"title":"Not Found","detail":"unknown path: no/such/path"}`, line)
}
