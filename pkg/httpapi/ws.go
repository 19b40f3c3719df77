package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	// eventBufferSize is the per-connection event buffer. A client that
	// stops reading loses events instead of stalling the engine.
	eventBufferSize = 64

	wsWriteTimeout = 5 * time.Second
)

// handleEvents streams engine events to one WebSocket client as JSON frames.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	sub := s.engine.Events().Subscribe(eventBufferSize)
	defer s.engine.Events().Unsubscribe(sub)

	// The stream is write-only. CloseRead keeps consuming control frames
	// and cancels the context when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-sub.C:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()

			if err != nil {
				return
			}
		}
	}
}
