package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fcptools/fcpd/apitypes"
	"github.com/fcptools/fcpd/fcp"
	"github.com/fcptools/fcpd/internal/server/api"
)

// Ping returns a handler answering liveness probes.
func Ping() api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		out, err := json.Marshal(apitypes.PingResponse{
			Server: "fcpd",
			Version: fmt.Sprintf("%d.%d.%d",
				fcp.VersionMajor, fcp.VersionMinor, fcp.VersionSubminor),
		})
		if err != nil {
			return api.ErrInternal(fmt.Sprintf("failed to marshal response: %v", err))
		}
		res.JSON = string(out)
		return nil
	}
}

// Version returns a handler answering the FCP protocol version query.
func Version() api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		out, err := json.Marshal(apitypes.VersionResponse{
			Version:  fcp.Version,
			Major:    fcp.VersionMajor,
			Minor:    fcp.VersionMinor,
			Subminor: fcp.VersionSubminor,
		})
		if err != nil {
			return api.ErrInternal(fmt.Sprintf("failed to marshal response: %v", err))
		}
		res.JSON = string(out)
		return nil
	}
}
