package proxy

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/fcptools/fcpd/apitypes"
	"github.com/fcptools/fcpd/internal/server/api/auth"
)

// Parser extracts management-protocol structure from the proxied byte
// stream for logging: request lines on the client side, response lines
// on the server side. An authenticated session is opaque past the
// handshake magic, so parsing stops there. The opaque flag is shared
// between the two directions of one connection.
type Parser struct {
	logger *slog.Logger
	buf    bytes.Buffer
	opaque *atomic.Bool
	first  bool
}

// NewParserPair returns parsers for the two directions of a proxied
// connection. The handshake magic only ever appears on the client side,
// but once seen it silences both.
func NewParserPair(logger *slog.Logger) (clientToServer, serverToClient *Parser) {
	opaque := &atomic.Bool{}
	clientToServer = &Parser{logger: logger, opaque: opaque, first: true}
	serverToClient = &Parser{logger: logger, opaque: opaque}
	return clientToServer, serverToClient
}

// Parse processes incoming data and logs protocol information.
func (p *Parser) Parse(data []byte, clientToServer bool) {
	if p.opaque.Load() {
		return
	}
	p.buf.Write(data)

	if p.first && clientToServer {
		if p.buf.Len() < len(auth.HandshakeMagic) {
			return
		}
		p.first = false
		if strings.HasPrefix(p.buf.String(), auth.HandshakeMagic) {
			p.logger.Debug("proxy session is encrypted; not parsing")
			p.opaque.Store(true)
			p.buf.Reset()
			return
		}
	}

	if clientToServer {
		p.parseRequests()
	} else {
		p.parseResponses()
	}
}

// parseRequests scans for null-terminated request lines.
func (p *Parser) parseRequests() {
	for {
		raw := p.buf.Bytes()
		idx := bytes.IndexByte(raw, 0)
		if idx < 0 {
			return
		}
		line := string(raw[:idx])
		p.buf.Next(idx + 1)

		path := line
		payloadBytes := 0
		if sp := strings.IndexAny(line, " \t\r\n"); sp >= 0 {
			path = line[:sp]
			payloadBytes = len(line) - sp - 1
		}
		p.logger.Info("proxy request", "path", strings.ToLower(path), "payload_bytes", payloadBytes)
	}
}

// parseResponses scans for newline-terminated response lines and
// surfaces problem responses at a higher level.
func (p *Parser) parseResponses() {
	for {
		raw := p.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			return
		}
		line := raw[:idx]
		p.buf.Next(idx + 1)

		var problem apitypes.ApiError
		if err := json.Unmarshal(line, &problem); err == nil && problem.Status != 0 {
			p.logger.Info("proxy response problem", "status", problem.Status, "detail", problem.Detail)
			continue
		}
		p.logger.Debug("proxy response", "bytes", len(line))
	}
}
