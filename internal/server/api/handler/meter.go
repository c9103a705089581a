package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fcptools/fcpd/apitypes"
	"github.com/fcptools/fcpd/cards"
	"github.com/fcptools/fcpd/internal/server/api"
)

// meterControlName matches the engine's default readout control name.
const meterControlName = "Level Meter"

// CardMeterMap returns a handler installing a meter map. The map and
// the readout control's channel count change together or not at all.
func CardMeterMap(reg *cards.Registry) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		card, err := cardFrom(req, reg)
		if err != nil {
			return err
		}
		var in apitypes.MeterMapRequest
		if err := json.Unmarshal([]byte(req.Payload), &in); err != nil {
			return api.ErrBadRequest(fmt.Sprintf("invalid meter map request: %v", err))
		}
		if err := card.Engine().SetMeterMap(in.Map, in.MeterSlots); err != nil {
			return wrapEngineErr(err)
		}
		out, err := json.Marshal(apitypes.MeterMapResponse{Channels: len(in.Map)})
		if err != nil {
			return api.ErrInternal(fmt.Sprintf("failed to marshal response: %v", err))
		}
		res.JSON = string(out)
		return nil
	}
}

// CardMeters returns a handler reading the current levels through the
// registered readout control.
func CardMeters(reg *cards.Registry) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		card, err := cardFrom(req, reg)
		if err != nil {
			return err
		}
		ctl := card.Controls().Lookup(meterControlName)
		if ctl == nil {
			return api.ErrConflict("no meter control registered; install a meter map first")
		}
		levels, err := ctl.Read(req.Ctx)
		if err != nil {
			return wrapEngineErr(err)
		}
		out, err := json.Marshal(apitypes.MetersResponse{Levels: levels})
		if err != nil {
			return api.ErrInternal(fmt.Sprintf("failed to marshal response: %v", err))
		}
		res.JSON = string(out)
		return nil
	}
}

// CardLabels returns a handler reading the opaque meter label blob.
func CardLabels(reg *cards.Registry) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		card, err := cardFrom(req, reg)
		if err != nil {
			return err
		}
		out, err := json.Marshal(apitypes.LabelsResponse{Labels: card.Engine().Labels()})
		if err != nil {
			return api.ErrInternal(fmt.Sprintf("failed to marshal response: %v", err))
		}
		res.JSON = string(out)
		return nil
	}
}

// CardLabelsSet returns a handler replacing the label blob wholesale.
func CardLabelsSet(reg *cards.Registry) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		card, err := cardFrom(req, reg)
		if err != nil {
			return err
		}
		var in apitypes.LabelsRequest
		if err := json.Unmarshal([]byte(req.Payload), &in); err != nil {
			return api.ErrBadRequest(fmt.Sprintf("invalid labels request: %v", err))
		}
		if err := card.Engine().SetLabels(in.Labels); err != nil {
			return wrapEngineErr(err)
		}
		res.JSON = ""
		return nil
	}
}
