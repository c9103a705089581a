package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"github.com/fcptools/fcpd/apitypes"
	"github.com/fcptools/fcpd/cards"
	"github.com/fcptools/fcpd/internal/server/api"
)

// NotifyStream returns a stream handler delivering notification events
// as JSON lines. Each line carries the bits accumulated since the
// previous one; the read is destructive, so bits arriving between
// deliveries coalesce. The stream ends when the client disconnects or
// the card detaches.
func NotifyStream() api.StreamHandlerFunc {
	return func(conn net.Conn, card *cards.Card, logger *slog.Logger) error {
		defer conn.Close()

		ctx, cancel := context.WithCancel(card.Context())
		defer cancel()

		// The client never sends after the request line; a read
		// returning means it hung up.
		go func() {
			var b [1]byte
			_, _ = conn.Read(b[:])
			cancel()
		}()

		for {
			bits, err := card.Engine().ReadNotify(ctx)
			if err != nil {
				// Teardown and client disconnect both end the stream
				// quietly.
				return nil
			}
			line, err := json.Marshal(apitypes.NotifyEvent{Bits: bits})
			if err != nil {
				return api.ErrInternal(fmt.Sprintf("failed to marshal event: %v", err))
			}
			if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
				return nil
			}
		}
	}
}
