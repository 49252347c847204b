package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
)

// handleParamStream upgrades to a WebSocket and pushes parameter store
// events. The first message is a snapshot of every override; later messages
// are set or delete events. Events a slow client cannot absorb are dropped.
func (s *Server) handleParamStream(w http.ResponseWriter, r *http.Request) {
	if s.params == nil {
		writeError(w, http.StatusNotImplemented, "parameter store not configured")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	id, events := s.params.Subscribe(streamBuffer)
	defer s.params.Unsubscribe(id)

	// Reads are discarded; the returned context ends when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	s.log.Debug("param stream opened", "subscriber", id)

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("param stream closed", "subscriber", id)
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "unsubscribed")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				s.log.Debug("param stream write failed", "subscriber", id, "error", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
