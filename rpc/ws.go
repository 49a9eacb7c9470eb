package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"nusd/core/events"
)

const wsWriteTimeout = 10 * time.Second

// eventStreamPayload is the wire frame delivered on /ws/vault/events. Cursor
// can be handed back via the ?cursor query parameter to resume after a
// disconnect without losing retained updates.
type eventStreamPayload struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Timestamp  int64             `json:"timestamp"`
}

func (s *Server) handleVaultEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamVaultEvents(r.Context(), conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamVaultEvents(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog, err := s.bus.Subscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	for _, update := range backlog {
		if err := writeStreamUpdate(ctx, conn, update); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeStreamUpdate(ctx, conn, update); err != nil {
				return err
			}
		}
	}
}

func writeStreamUpdate(ctx context.Context, conn *websocket.Conn, update events.Update) error {
	payload := eventStreamPayload{
		Sequence:   update.Sequence,
		Cursor:     update.Cursor,
		ID:         update.ID,
		Type:       update.Type,
		Attributes: update.Attributes,
		Timestamp:  update.Timestamp,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
