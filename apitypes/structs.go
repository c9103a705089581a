// Package apitypes defines the DTOs exchanged over the fcpd management
// protocol.
package apitypes

import "fmt"

// ApiError represents an RFC 7807 (problem+json) error response.
type ApiError struct {
	// Status is the HTTP-style status code (e.g., 400, 404, 500)
	Status int `json:"status"`
	// Title is a short, human-readable summary of the problem type
	Title string `json:"title"`
	// Detail is a human-readable explanation specific to this occurrence
	Detail string `json:"detail"`
}

func (e ApiError) Error() string {
	if e.Status == 0 && e.Title == "" {
		return "unknown error"
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
}

// --

type PingResponse struct {
	Server  string `json:"server"`
	Version string `json:"version"`
}

// VersionResponse carries the packed FCP protocol version and its parts.
type VersionResponse struct {
	Version  uint32 `json:"version"`
	Major    uint8  `json:"major"`
	Minor    uint8  `json:"minor"`
	Subminor uint8  `json:"subminor"`
}

type CardListResponse struct {
	Cards []string `json:"cards"`
}

// InitRequest asks for the initialization probe with the given response
// size (max 255 bytes).
type InitRequest struct {
	RespSize int `json:"respSize"`
}

// InitResponse returns the opaque probe response.
type InitResponse struct {
	Data []byte `json:"data"`
}

// CmdRequest executes one FCP command. Req is base64 on the wire
// (encoding/json []byte convention); RespSize is the exact expected
// response payload size.
type CmdRequest struct {
	Opcode   uint32 `json:"opcode"`
	Req      []byte `json:"req,omitempty"`
	RespSize int    `json:"respSize"`
}

type CmdResponse struct {
	Resp []byte `json:"resp,omitempty"`
}

// MeterMapRequest installs a meter map: one signed slot index per
// logical channel (-1 = no source) plus the declared raw slot count.
type MeterMapRequest struct {
	Map        []int16 `json:"map"`
	MeterSlots uint16  `json:"meterSlots"`
}

type MeterMapResponse struct {
	Channels int `json:"channels"`
}

type MetersResponse struct {
	Levels []int32 `json:"levels"`
}

type LabelsRequest struct {
	Labels []byte `json:"labels,omitempty"`
}

type LabelsResponse struct {
	Labels []byte `json:"labels,omitempty"`
}

// NotifyEvent is one line of the notification stream: the OR-combined
// device-state-change bits drained by this read.
type NotifyEvent struct {
	Bits uint32 `json:"bits"`
}
