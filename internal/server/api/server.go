package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/fcptools/fcpd/cards"
	"github.com/fcptools/fcpd/internal/server/api/auth"
)

// Server implements a small TCP API exposing the FCP dispatch surface.
type Server struct {
	registry *cards.Registry
	addr     string
	ln       net.Listener
	logger   *slog.Logger
	router   *Router
	config   ServerConfig
}

// New creates a new api Server bound to a card registry.
func New(registry *cards.Registry, config ServerConfig, logger *slog.Logger) *Server {
	a := &Server{
		registry: registry,
		addr:     config.Addr,
		logger:   logger,
		config:   config,
	}
	a.router = NewRouter()
	return a
}

// Router returns the router used by the API server so callers can register handlers.
func (a *Server) Router() *Router { return a.router }

// Cards returns the underlying card registry.
func (a *Server) Cards() *cards.Registry { return a.registry }

// Config returns the server configuration.
func (a *Server) Config() ServerConfig { return a.config }

// Start listens on the configured address and serves incoming API commands.
func (a *Server) Start() error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}
	a.ln = ln
	a.logger.Info("API listening", "addr", a.addr)
	go a.serve()
	return nil
}

// Addr returns the bound listen address (useful when listening on :0).
func (a *Server) Addr() string {
	if a.ln == nil {
		return a.addr
	}
	return a.ln.Addr().String()
}

// Close stops the API server.
func (a *Server) Close() {
	if a.ln != nil {
		_ = a.ln.Close()
	}
}

func (a *Server) serve() {
	for {
		c, err := a.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || strings.Contains(strings.ToLower(err.Error()), "use of closed network connection") {
				a.logger.Info("API server stopped")
				return
			}
			a.logger.Info("API accept error", "error", err)
			return
		}
		go a.handleConn(c)
	}
}

func (a *Server) writeError(w io.Writer, err error) {
	apiErr := WrapError(err)
	problemJSON, _ := json.Marshal(apiErr)
	fmt.Fprintf(w, "%s\n", string(problemJSON))
}

func (a *Server) writeOK(w io.Writer, rest string) {
	if rest == "" {
		fmt.Fprintln(w)
	} else {
		fmt.Fprintf(w, "%s\n", rest)
	}
}

func (a *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	connLogger := a.logger.With("remote", conn.RemoteAddr().String())
	if a.config.ConnectionTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(a.config.ConnectionTimeout))
	}
	r := bufio.NewReader(conn)
	var w io.Writer = conn

	// Authenticated sessions start with the handshake magic; when a
	// password is configured the rest of the connection runs wrapped.
	if a.config.Password != "" {
		isAuth, err := auth.IsAuthHandshake(r)
		if err != nil || !isAuth {
			connLogger.Error("api connection without auth handshake")
			a.writeError(w, ErrUnauthorized("authentication required"))
			return
		}
		key, err := auth.DeriveKey(a.config.Password)
		if err != nil {
			a.writeError(w, ErrInternal("key derivation failed"))
			return
		}
		clientNonce, serverNonce, err := auth.HandleAuthHandshake(r, conn, key, false)
		if err != nil {
			connLogger.Error("api auth handshake failed", "error", err)
			a.writeError(w, err)
			return
		}
		sessionKey := auth.DeriveSessionKey(key, serverNonce, clientNonce)
		wrapped, err := auth.WrapConn(conn, sessionKey)
		if err != nil {
			a.writeError(w, ErrInternal("session wrap failed"))
			return
		}
		conn = wrapped
		r = bufio.NewReader(conn)
		w = conn
	}

	// Read until null terminator
	reqData, err := r.ReadString('\x00')
	if err != nil {
		if err == io.EOF {
			connLogger.Error("api incomplete request (no null terminator)")
		} else {
			connLogger.Error("read api data", "error", err)
		}
		return
	}
	// Remove null terminator
	reqData = strings.TrimSuffix(reqData, "\x00")

	if reqData == "" {
		connLogger.Error("api empty command")
		a.writeError(w, ErrBadRequest("empty request"))
		return
	}

	// Split on first whitespace character using regex \s
	wsRegex := regexp.MustCompile(`\s`)
	loc := wsRegex.FindStringIndex(reqData)

	var path, payload string
	if loc != nil {
		path = reqData[:loc[0]]
		payload = reqData[loc[1]:]
	} else {
		path = reqData
		payload = ""
	}

	if path == "" {
		connLogger.Error("api empty path")
		a.writeError(w, ErrBadRequest("empty path"))
		return
	}

	path = strings.ToLower(path)
	connLogger.Info("api cmd", "path", path)

	if h, params := a.router.Match(path); h != nil {
		req := &Request{Ctx: connCtx, Params: params, Payload: payload}
		res := &Response{}
		if err := h(req, res, connLogger); err != nil {
			connLogger.Error("api handler error", "path", path, "error", err)
			a.writeError(w, err)
			return
		}
		connLogger.Debug("api handler success", "path", path)
		a.writeOK(w, res.JSON)
		return
	} else if sh, params := a.router.MatchStream(path); sh != nil {
		connLogger.Info("api stream begin", "path", path)
		cardID, ok := params["id"]
		if !ok {
			a.writeError(w, ErrBadRequest("missing card id parameter"))
			return
		}
		card := a.registry.Get(cardID)
		if card == nil {
			a.writeError(w, ErrNotFound(fmt.Sprintf("card %s not found", cardID)))
			return
		}

		// Stream handlers own the connection until the card detaches or
		// the client goes away.
		_ = conn.SetDeadline(time.Time{})
		if err := sh(conn, card, connLogger); err != nil {
			connLogger.Error("api stream handler error", "path", path, "error", err)
		}
		connLogger.Info("api stream end", "path", path)
		return
	}
	connLogger.Error("api unknown path", "path", path)
	a.writeError(w, ErrNotFound(fmt.Sprintf("unknown path: %s", path)))
}
