package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/econregulator/regulator/internal/validation"
	"github.com/econregulator/regulator/pkg/types"
)

const (
	wsMaxPayloadBytes = 1 << 20 // 1 MiB
	wsPingInterval    = 30 * time.Second
	wsPongWait        = 35 * time.Second
	wsSendBufferSize  = 16
)

var prototypePollutingKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

type wsEnvelope struct {
	Type   string          `json:"type"`
	State  *types.EconomyState `json:"state,omitempty"`
	Event  *types.EconomicEvent `json:"event,omitempty"`
}

type wsResponse struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if s.config.CORSOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == s.config.CORSOrigin
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connLimiter := s.connLimiter()

	conn.SetReadLimit(wsMaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// conn.WriteMessage is not safe for concurrent use; wsWritePump is the
	// only goroutine that ever writes to conn, and both responses and pings
	// reach it through send.
	send := make(chan []byte, wsSendBufferSize)
	done := make(chan struct{})
	go s.wsWritePump(conn, send, done)
	defer close(done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		if !connLimiter.Allow() {
			s.wsSend(send, wsResponse{Type: "error", Error: "rate_limited"})
			continue
		}

		var raw2 map[string]any
		if err := json.Unmarshal(raw, &raw2); err != nil {
			s.wsSend(send, wsResponse{Type: "error", Error: "malformed json"})
			continue
		}
		sanitize(raw2)
		clean, _ := json.Marshal(raw2)

		var env wsEnvelope
		if err := json.Unmarshal(clean, &env); err != nil {
			s.wsSend(send, wsResponse{Type: "error", Error: "malformed envelope"})
			continue
		}

		s.handleWSMessage(send, r, &env)
	}
}

func (s *Server) handleWSMessage(send chan<- []byte, r *http.Request, env *wsEnvelope) {
	switch env.Type {
	case "tick":
		if env.State == nil {
			s.wsSend(send, wsResponse{Type: "validation_error", Error: "missing state"})
			return
		}
		result := validation.ValidateState(env.State)
		if !result.Valid {
			s.wsSend(send, wsResponse{Type: "validation_error", Payload: result.Errors})
			return
		}
		s.tickMu.Lock()
		outcome, err := s.ctrl.Tick(r.Context(), env.State)
		s.tickMu.Unlock()
		if err != nil {
			s.wsSend(send, wsResponse{Type: "error", Error: err.Error()})
			return
		}
		s.wsSend(send, wsResponse{Type: "tick_result", Payload: outcome})

	case "event":
		if env.Event == nil {
			s.wsSend(send, wsResponse{Type: "validation_error", Error: "missing event"})
			return
		}
		s.ctrl.Ingest(*env.Event)
		s.wsSend(send, wsResponse{Type: "event_result", Payload: map[string]bool{"ok": true}})

	case "diagnose":
		if env.State == nil {
			s.wsSend(send, wsResponse{Type: "validation_error", Error: "missing state"})
			return
		}
		health, diagnoses, err := s.ctrl.Diagnose(env.State)
		if err != nil {
			s.wsSend(send, wsResponse{Type: "error", Error: err.Error()})
			return
		}
		s.wsSend(send, wsResponse{Type: "diagnose_result", Payload: map[string]any{
			"health": health, "diagnoses": diagnoses,
		}})

	case "health":
		s.wsSend(send, wsResponse{Type: "health_result", Payload: map[string]any{
			"tick":        s.ctrl.CurrentTick(),
			"activePlans": s.ctrl.ActivePlanCount(),
		}})

	default:
		s.wsSend(send, wsResponse{Type: "error", Error: "unknown message type: " + env.Type})
	}
}

// wsWritePump is the sole writer of conn: it drains responses queued onto
// send and interleaves the ping ticker onto the same connection.
func (s *Server) wsWritePump(conn *websocket.Conn, send <-chan []byte, done chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			// The read deadline is refreshed only by the pong handler, so a
			// missed pong surfaces as a read timeout on the next cycle and
			// readMessage above returns, closing the connection.
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsSend enqueues resp for wsWritePump; it never touches conn directly.
func (s *Server) wsSend(send chan<- []byte, resp wsResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	select {
	case send <- data:
	default:
		s.logger.Warn("websocket send buffer full, dropping message")
	}
}

// sanitize recursively strips prototype-polluting keys from decoded JSON
// objects in place.
func sanitize(v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, nested := range val {
			if prototypePollutingKeys[strings.ToLower(k)] {
				delete(val, k)
				continue
			}
			sanitize(nested)
		}
	case []any:
		for _, nested := range val {
			sanitize(nested)
		}
	}
}
