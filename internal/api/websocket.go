package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/turinglab/turinglab/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	eventBufferLen = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Same policy as the HTTP routes: any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleRelay answers each text frame with the JSON result of an agent
// run. Frames are processed one at a time per connection.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("relay upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remote := r.RemoteAddr
	s.logger.Info("relay client connected", "remote", remote)
	s.emit(events.KindClientConnected, map[string]any{"remote": remote})
	defer func() {
		s.logger.Info("relay client disconnected", "remote", remote)
		s.emit(events.KindClientDisconnected, map[string]any{"remote": remote})
	}()

	conn.SetReadLimit(maxBodyBytes)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("relay read ended", "remote", remote, "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		reply := s.relayReply(ctx, data)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(reply); err != nil {
			s.logger.Debug("relay write failed", "remote", remote, "error", err)
			return
		}
	}
}

func (s *Server) relayReply(ctx context.Context, frame []byte) any {
	req, err := parseRelayFrame(frame)
	if err != nil {
		var re *requestError
		if errors.As(err, &re) {
			return errorBody{Error: re.message, Details: re.details}
		}
		return errorBody{Error: "Invalid request"}
	}
	resp, err := s.serveAgent(ctx, req)
	if err != nil {
		return errorBody{Error: "Internal Server Error", Details: err.Error()}
	}
	return resp
}

// parseRelayFrame accepts either a JSON agent request or a bare prompt.
func parseRelayFrame(frame []byte) (*AgentRequest, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, errMissingPrompt
	}
	if trimmed[0] == '{' {
		return decodeAgentRequest(trimmed)
	}
	return &AgentRequest{Prompt: string(trimmed)}, nil
}

// handleEventStream forwards bus events to the client until either
// side goes away.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Event stream not configured", nil)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("event stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(eventBufferLen)
	defer s.bus.Unsubscribe(ch)

	// Drain client frames so close and pong control messages are seen.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
