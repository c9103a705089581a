package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fcptools/fcpd/apitypes"
	"github.com/fcptools/fcpd/cards"
	"github.com/fcptools/fcpd/internal/server/api"
)

// CardList returns a handler listing attached card ids.
func CardList(reg *cards.Registry) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		out, err := json.Marshal(apitypes.CardListResponse{Cards: reg.List()})
		if err != nil {
			return api.ErrInternal(fmt.Sprintf("failed to marshal response: %v", err))
		}
		res.JSON = string(out)
		return nil
	}
}

// CardInit returns a handler performing the initialization exchange:
// the opaque probe, sequence counter reset, and arming of the
// notification pipeline.
func CardInit(reg *cards.Registry) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		card, err := cardFrom(req, reg)
		if err != nil {
			return err
		}
		var in apitypes.InitRequest
		if req.Payload != "" {
			if err := json.Unmarshal([]byte(req.Payload), &in); err != nil {
				return api.ErrBadRequest(fmt.Sprintf("invalid init request: %v", err))
			}
		}
		data, err := card.Engine().Initialize(req.Ctx, in.RespSize)
		if err != nil {
			return wrapEngineErr(err)
		}
		out, err := json.Marshal(apitypes.InitResponse{Data: data})
		if err != nil {
			return api.ErrInternal(fmt.Sprintf("failed to marshal response: %v", err))
		}
		res.JSON = string(out)
		return nil
	}
}

// CardCmd returns a handler executing one generic FCP command.
func CardCmd(reg *cards.Registry) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		card, err := cardFrom(req, reg)
		if err != nil {
			return err
		}
		var in apitypes.CmdRequest
		if err := json.Unmarshal([]byte(req.Payload), &in); err != nil {
			return api.ErrBadRequest(fmt.Sprintf("invalid cmd request: %v", err))
		}
		resp, err := card.Engine().Execute(req.Ctx, in.Opcode, in.Req, in.RespSize)
		if err != nil {
			return wrapEngineErr(err)
		}
		out, err := json.Marshal(apitypes.CmdResponse{Resp: resp})
		if err != nil {
			return api.ErrInternal(fmt.Sprintf("failed to marshal response: %v", err))
		}
		res.JSON = string(out)
		return nil
	}
}
