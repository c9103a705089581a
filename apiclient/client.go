package apiclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	apitypes "github.com/fcptools/fcpd/apitypes"
)

// Client provides a high-level interface to the fcpd API, handling request
// formatting, response parsing, and error handling.
type Client struct{ transport *Transport }

// New constructs a high-level API client using the internal low-level Transport.
// The addr parameter specifies the TCP address (host:port) of the fcpd API server.
func New(addr string) *Client { return &Client{transport: NewTransport(addr)} }

// NewWithPassword constructs a client that authenticates with the given password.
func NewWithPassword(addr, password string) *Client {
	return &Client{transport: NewTransportWithPassword(addr, password)}
}

// NewWithConfig constructs a client with custom transport timeouts.
func NewWithConfig(addr string, cfg *Config) *Client {
	return &Client{transport: NewTransportWithConfig(addr, cfg)}
}

// WithTransport constructs a Client using a custom Transport implementation.
// This is primarily useful for testing or when advanced transport configuration is needed.
func WithTransport(t *Transport) *Client { return &Client{transport: t} }

// Ping returns the identity and protocol version of the fcpd server.
func (c *Client) Ping() (*apitypes.PingResponse, error) {
	return c.PingCtx(context.Background())
}

// PingCtx is the context-aware version of Ping.
func (c *Client) PingCtx(ctx context.Context) (*apitypes.PingResponse, error) {
	const path = "ping"
	raw, err := c.transport.DoCtx(ctx, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.PingResponse](raw)
}

// Version returns the supported protocol version in packed and split forms.
func (c *Client) Version() (*apitypes.VersionResponse, error) {
	return c.VersionCtx(context.Background())
}

func (c *Client) VersionCtx(ctx context.Context) (*apitypes.VersionResponse, error) {
	const path = "version"
	raw, err := c.transport.DoCtx(ctx, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.VersionResponse](raw)
}

// CardList retrieves the identifiers of all attached cards.
func (c *Client) CardList() (*apitypes.CardListResponse, error) {
	return c.CardListCtx(context.Background())
}

func (c *Client) CardListCtx(ctx context.Context) (*apitypes.CardListResponse, error) {
	const path = "card/list"
	raw, err := c.transport.DoCtx(ctx, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.CardListResponse](raw)
}

// CardInit runs the protocol initialization step against the card and returns
// the opaque init data the device reported. respSize must not exceed 255.
func (c *Client) CardInit(cardID string, respSize int) (*apitypes.InitResponse, error) {
	return c.CardInitCtx(context.Background(), cardID, respSize)
}

func (c *Client) CardInitCtx(ctx context.Context, cardID string, respSize int) (*apitypes.InitResponse, error) {
	pathParams := map[string]string{"id": cardID}
	const path = "card/{id}/init"
	payload, err := json.Marshal(apitypes.InitRequest{RespSize: respSize})
	if err != nil {
		return nil, fmt.Errorf("marshal init request: %w", err)
	}
	raw, err := c.transport.DoCtx(ctx, path, string(payload), pathParams)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.InitResponse](raw)
}

// CardCmd executes an arbitrary protocol command on the card and returns the
// device's response payload.
func (c *Client) CardCmd(cardID string, opcode uint32, req []byte, respSize int) (*apitypes.CmdResponse, error) {
	return c.CardCmdCtx(context.Background(), cardID, opcode, req, respSize)
}

func (c *Client) CardCmdCtx(ctx context.Context, cardID string, opcode uint32, req []byte, respSize int) (*apitypes.CmdResponse, error) {
	pathParams := map[string]string{"id": cardID}
	const path = "card/{id}/cmd"
	payload, err := json.Marshal(apitypes.CmdRequest{Opcode: opcode, Req: req, RespSize: respSize})
	if err != nil {
		return nil, fmt.Errorf("marshal cmd request: %w", err)
	}
	raw, err := c.transport.DoCtx(ctx, path, string(payload), pathParams)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.CmdResponse](raw)
}

// CardMeterMap installs the meter routing map on the card. Each entry is
// either -1 (channel reads zero) or a slot index below meterSlots.
func (c *Client) CardMeterMap(cardID string, m []int16, meterSlots uint16) (*apitypes.MeterMapResponse, error) {
	return c.CardMeterMapCtx(context.Background(), cardID, m, meterSlots)
}

func (c *Client) CardMeterMapCtx(ctx context.Context, cardID string, m []int16, meterSlots uint16) (*apitypes.MeterMapResponse, error) {
	pathParams := map[string]string{"id": cardID}
	const path = "card/{id}/meter-map"
	payload, err := json.Marshal(apitypes.MeterMapRequest{Map: m, MeterSlots: meterSlots})
	if err != nil {
		return nil, fmt.Errorf("marshal meter map request: %w", err)
	}
	raw, err := c.transport.DoCtx(ctx, path, string(payload), pathParams)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.MeterMapResponse](raw)
}

// CardMeters reads the current levels for all mapped meter channels.
func (c *Client) CardMeters(cardID string) (*apitypes.MetersResponse, error) {
	return c.CardMetersCtx(context.Background(), cardID)
}

func (c *Client) CardMetersCtx(ctx context.Context, cardID string) (*apitypes.MetersResponse, error) {
	pathParams := map[string]string{"id": cardID}
	const path = "card/{id}/meters"
	raw, err := c.transport.DoCtx(ctx, path, nil, pathParams)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.MetersResponse](raw)
}

// CardLabels fetches the current meter label blob.
func (c *Client) CardLabels(cardID string) (*apitypes.LabelsResponse, error) {
	return c.CardLabelsCtx(context.Background(), cardID)
}

func (c *Client) CardLabelsCtx(ctx context.Context, cardID string) (*apitypes.LabelsResponse, error) {
	pathParams := map[string]string{"id": cardID}
	const path = "card/{id}/labels"
	raw, err := c.transport.DoCtx(ctx, path, nil, pathParams)
	if err != nil {
		return nil, err
	}
	return parse[apitypes.LabelsResponse](raw)
}

// CardLabelsSet replaces the meter label blob. An empty blob clears the
// labels; blobs over 4096 bytes are rejected by the server. Success is
// acknowledged with an empty response line.
func (c *Client) CardLabelsSet(cardID string, labels []byte) error {
	return c.CardLabelsSetCtx(context.Background(), cardID, labels)
}

func (c *Client) CardLabelsSetCtx(ctx context.Context, cardID string, labels []byte) error {
	pathParams := map[string]string{"id": cardID}
	const path = "card/{id}/labels/set"
	payload, err := json.Marshal(apitypes.LabelsRequest{Labels: labels})
	if err != nil {
		return fmt.Errorf("marshal labels request: %w", err)
	}
	raw, err := c.transport.DoCtx(ctx, path, string(payload), pathParams)
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	var problem apitypes.ApiError
	if err := json.Unmarshal([]byte(raw), &problem); err == nil && (problem.Status != 0 || problem.Title != "") {
		return &problem
	}
	return nil
}

// NotifyStream is a live subscription to a card's notification events.
// Close it to release the underlying connection.
type NotifyStream struct {
	conn net.Conn
	r    *bufio.Reader
}

// Next blocks until the next notification event arrives or the stream ends.
func (s *NotifyStream) Next() (*apitypes.NotifyEvent, error) {
	line, err := s.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	if len(line) == 0 {
		return nil, errors.New("empty event line")
	}
	var problem apitypes.ApiError
	if err := json.Unmarshal(line, &problem); err == nil && (problem.Status != 0 || problem.Title != "") {
		return nil, &problem
	}
	var ev apitypes.NotifyEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &ev, nil
}

// Close terminates the subscription.
func (s *NotifyStream) Close() error { return s.conn.Close() }

// CardNotify opens the notification stream for the given card. Events are
// delivered as they occur; coalesced change bits accumulate between reads.
func (c *Client) CardNotify(cardID string) (*NotifyStream, error) {
	return c.CardNotifyCtx(context.Background(), cardID)
}

func (c *Client) CardNotifyCtx(ctx context.Context, cardID string) (*NotifyStream, error) {
	pathParams := map[string]string{"id": cardID}
	const path = "card/{id}/notify"
	conn, err := c.transport.OpenStream(ctx, path, nil, pathParams)
	if err != nil {
		return nil, err
	}
	return &NotifyStream{conn: conn, r: bufio.NewReader(conn)}, nil
}

func parse[T any](data string) (*T, error) {
	if data == "" {
		return nil, errors.New("empty response")
	}
	var problem apitypes.ApiError
	if err := json.Unmarshal([]byte(data), &problem); err == nil && (problem.Status != 0 || problem.Title != "") {
		return nil, &problem
	}
	var out T
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &out, nil
}
