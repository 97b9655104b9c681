package server

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"helpdesk-chat-client/internal/types"
)

// wsEvent is the server-to-client frame on the chat socket.
type wsEvent struct {
	Type      string              `json:"type"`
	SessionID string              `json:"sessionId,omitempty"`
	Message   *types.Message      `json:"message,omitempty"`
	MessageID int64               `json:"messageId,omitempty"`
	Pending   *types.PendingOffer `json:"pending,omitempty"`
	Messages  []types.Message     `json:"messages,omitempty"`
	Text      string              `json:"text,omitempty"`
}

// wsCommand is the client-to-server frame: type is message, confirm or cancel.
type wsCommand struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// wsSink pushes session events onto one WebSocket connection. Gorilla
// connections allow a single concurrent writer, so writes are serialized.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (ws *wsSink) send(ev wsEvent) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err := ws.conn.WriteJSON(ev); err != nil {
		log.Printf("[ws] write failed: %v", err)
	}
}

func (ws *wsSink) MessageAppended(m types.Message) {
	ws.send(wsEvent{Type: "message", Message: &m})
}

func (ws *wsSink) MessageUpdated(m types.Message) {
	ws.send(wsEvent{Type: "message", Message: &m})
}

func (ws *wsSink) MessageRemoved(id int64) {
	ws.send(wsEvent{Type: "message_removed", MessageID: id})
}

func (ws *wsSink) ConfirmationRequested(offer types.PendingOffer) {
	ws.send(wsEvent{Type: "confirmation", Pending: &offer})
}

func (ws *wsSink) Notice(text string) {
	ws.send(wsEvent{Type: "notice", Text: text})
}

// handleChatWS attaches a browser to its session over WebSocket: replays the
// current log, then consumes message/confirm/cancel commands until the
// connection closes.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sid := getSessionID(r)
	if sid == "" {
		sid = newSessionID()
	}
	sess := s.sessions.Get(sid)
	sink := &wsSink{conn: conn}
	sess.SetSink(sink)
	defer func() {
		sess.SetSink(nil)
		s.archiveTranscript(sid)
	}()

	sink.send(wsEvent{
		Type:      "connected",
		SessionID: sid,
		Messages:  sess.Snapshot(),
		Pending:   sess.PendingOffer(),
	})

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] session %s closed unexpectedly: %v", sid, err)
			}
			return
		}

		switch cmd.Type {
		case "message":
			// One turn at a time: a second send while a reveal or a pending
			// confirmation is in flight gets a busy error back.
			go func(text string) {
				ctx, cancel := context.WithTimeout(r.Context(), s.cfg.BackendTimeout)
				defer cancel()
				if err := sess.Send(ctx, text); err != nil {
					sink.send(wsEvent{Type: "error", Text: err.Error()})
				}
			}(cmd.Text)
		case "confirm":
			if err := sess.Confirm(); err != nil {
				sink.send(wsEvent{Type: "error", Text: err.Error()})
			}
		case "cancel":
			if err := sess.Cancel(); err != nil {
				sink.send(wsEvent{Type: "error", Text: err.Error()})
			}
		default:
			sink.send(wsEvent{Type: "error", Text: "unknown command type"})
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowedOrigin == "" || s.cfg.AllowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // allow non-browser clients
	}
	return origin == s.cfg.AllowedOrigin
}
