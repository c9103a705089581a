// Package handler contains the API handlers exposing the FCP dispatch
// surface: version query, initialization, generic command execution,
// meter map installation, meter/label access, and the notification
// stream.
package handler

import (
	"errors"
	"fmt"

	"github.com/fcptools/fcpd/cards"
	"github.com/fcptools/fcpd/engine"
	"github.com/fcptools/fcpd/internal/server/api"
)

// cardFrom resolves the {id} route parameter against the registry.
func cardFrom(req *api.Request, reg *cards.Registry) (*cards.Card, error) {
	id, ok := req.Params["id"]
	if !ok {
		return nil, api.ErrBadRequest("missing card id parameter")
	}
	card := reg.Get(id)
	if card == nil {
		return nil, api.ErrNotFound(fmt.Sprintf("card %s not found", id))
	}
	return card, nil
}

// wrapEngineErr maps engine failures onto API error classes: client
// mistakes are 400s, a detached card is a 409, everything else is
// internal.
func wrapEngineErr(err error) error {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		return api.ErrBadRequest(verr.Detail)
	case errors.Is(err, engine.ErrNoMeterMap):
		return api.ErrConflict(err.Error())
	case errors.Is(err, engine.ErrClosed):
		return api.ErrConflict(err.Error())
	default:
		return api.ErrInternal(err.Error())
	}
}
