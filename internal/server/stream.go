package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	perrors "github.com/petrel-search/petrel/internal/errors"
	"github.com/petrel-search/petrel/internal/events"
	"github.com/petrel-search/petrel/internal/status"
)

const (
	// sseHeartbeat keeps idle SSE connections from being reaped by
	// intermediaries.
	sseHeartbeat = 15 * time.Second

	// WebSocket keepalive. Pings must outpace the read deadline.
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// docFilter limits a subscription to one document. Empty means all.
func docFilter(docID string) events.Predicate[status.ProcessingStatus] {
	if docID == "" {
		return nil
	}
	return func(st status.ProcessingStatus) bool {
		return st.DocID == docID
	}
}

func (s *Server) streamUnavailable(w http.ResponseWriter) bool {
	if s.deps.Bus != nil {
		return false
	}
	writeJSON(w, http.StatusServiceUnavailable, errorEnvelope{
		Error: "status stream unavailable",
		Code:  perrors.CodeServerError,
	})
	return true
}

// handleStream serves the status feed over server-sent events. Each
// event's payload is a ProcessingStatus, identical to the GET body.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.streamUnavailable(w) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{
			Error: "streaming not supported",
			Code:  perrors.CodeServerError,
		})
		return
	}

	sub := s.deps.Bus.Subscribe(docFilter(r.URL.Query().Get("doc_id")))
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case st, open := <-sub.Events():
			if !open {
				return
			}
			data, err := json.Marshal(st)
			if err != nil {
				s.logger.Error("encode status event", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// wsUpgrader checks origins against the same allow-list as CORS.
// Requests without an Origin header (curl, same-process clients) are
// always allowed.
func (s *Server) wsUpgrader() websocket.Upgrader {
	allowed := make(map[string]struct{}, len(s.cfg.CORSOrigins))
	wildcard := false
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		allowed[o] = struct{}{}
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// handleWebSocket serves the status feed over a WebSocket. Payloads are
// identical to the SSE stream; the monitor command is the primary
// consumer.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.streamUnavailable(w) {
		return
	}

	upgrader := s.wsUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := s.deps.Bus.Subscribe(docFilter(r.URL.Query().Get("doc_id")))

	go s.wsWrite(conn, sub)
	s.wsRead(conn, sub)
}

// wsRead consumes control frames until the client goes away, then tears
// the subscription down, which stops the writer.
func (s *Server) wsRead(conn *websocket.Conn, sub *events.Subscription[status.ProcessingStatus]) {
	defer sub.Close()
	defer conn.Close()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) wsWrite(conn *websocket.Conn, sub *events.Subscription[status.ProcessingStatus]) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case st, open := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if !open {
				conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if err := conn.WriteJSON(st); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
