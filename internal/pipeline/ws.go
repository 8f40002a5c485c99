// Package pipeline is the websocket boundary to the conversational
// pipeline. The pipeline opens one stream per call, reports lifecycle and
// turn events, and receives the session prompt and idle lines to speak.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"reminder-voice/internal/callstate"
	"reminder-voice/internal/orchestrator"
	"reminder-voice/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Events is the call lifecycle the stream drives. *orchestrator.Orchestrator
// implements it.
type Events interface {
	Connect(ctx context.Context, callUUID string) (orchestrator.SessionStart, error)
	GreetingCompleted(ctx context.Context, callUUID string) error
	Turn(ctx context.Context, callUUID string, t callstate.Turn) error
	Idle(ctx context.Context, callUUID string) (line string, keepOpen bool, err error)
	Disconnect(ctx context.Context, callUUID string) error
}

// Inbound message types.
const (
	MsgGreetingDone = "greeting_done"
	MsgTurn         = "turn"
	MsgIdle         = "idle"
	MsgDisconnected = "disconnected"
)

// Outbound message types.
const (
	MsgSession = "session"
	MsgSay     = "say"
	MsgError   = "error"
)

// Inbound is a message from the pipeline.
type Inbound struct {
	Type      string            `json:"type"`
	Speaker   callstate.Speaker `json:"speaker,omitempty"`
	Text      string            `json:"text,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
}

// Outbound is a message to the pipeline.
type Outbound struct {
	Type    string                     `json:"type"`
	Session *orchestrator.SessionStart `json:"session,omitempty"`
	Text    string                     `json:"text,omitempty"`
	// End asks the pipeline to stop listening after speaking Text.
	End   bool   `json:"end,omitempty"`
	Error string `json:"error,omitempty"`
}

const (
	defaultReadTimeout = 90 * time.Second
	writeWait          = 10 * time.Second
)

type Handler struct {
	Events   Events
	Upgrader websocket.Upgrader
	// ReadTimeout closes a silent stream. Pong frames extend it.
	ReadTimeout time.Duration
}

func NewHandler(ev Events) *Handler {
	return &Handler{
		Events: ev,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Media providers connect from their own origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ReadTimeout: defaultReadTimeout,
	}
}

// Serve handles GET /ws/:call_uuid.
func (h *Handler) Serve(c *gin.Context) {
	callUUID := c.Param("call_uuid")
	log := logger.FromGin(c)

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("pipeline websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx := context.WithoutCancel(c.Request.Context())
	start, err := h.Events.Connect(ctx, callUUID)
	if err != nil {
		log.Warn("pipeline connect rejected", "err", err)
		_ = write(conn, Outbound{Type: MsgError, Error: err.Error()})
		closeWith(conn, websocket.ClosePolicyViolation, "call not available")
		return
	}
	defer func() {
		if err := h.Events.Disconnect(ctx, callUUID); err != nil {
			log.Error("pipeline disconnect failed", "err", err)
		}
	}()

	if err := write(conn, Outbound{Type: MsgSession, Session: &start}); err != nil {
		log.Warn("session message write failed", "err", err)
		return
	}
	log.Info("pipeline stream open")

	timeout := h.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		var msg Inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("pipeline stream read failed", "err", err)
			}
			return
		}
		if done := h.dispatch(ctx, log, conn, callUUID, msg); done {
			closeWith(conn, websocket.CloseNormalClosure, "")
			return
		}
	}
}

// dispatch handles one message and reports whether the stream is finished.
func (h *Handler) dispatch(ctx context.Context, log *slog.Logger, conn *websocket.Conn, callUUID string, msg Inbound) bool {
	switch msg.Type {
	case MsgGreetingDone:
		if err := h.Events.GreetingCompleted(ctx, callUUID); err != nil {
			return h.reject(log, conn, msg, err)
		}
	case MsgTurn:
		t := callstate.Turn{Speaker: msg.Speaker, Text: msg.Text, At: msg.Timestamp}
		if err := h.Events.Turn(ctx, callUUID, t); err != nil {
			return h.reject(log, conn, msg, err)
		}
	case MsgIdle:
		line, keepOpen, err := h.Events.Idle(ctx, callUUID)
		if err != nil {
			return h.reject(log, conn, msg, err)
		}
		if err := write(conn, Outbound{Type: MsgSay, Text: line, End: !keepOpen}); err != nil {
			log.Warn("idle line write failed", "err", err)
			return true
		}
	case MsgDisconnected:
		return true
	default:
		log.Warn("unknown pipeline message", "type", msg.Type)
		_ = write(conn, Outbound{Type: MsgError, Error: "unknown message type"})
	}
	return false
}

// reject reports a failed event to the pipeline. A call that already
// finished ends the stream.
func (h *Handler) reject(log *slog.Logger, conn *websocket.Conn, msg Inbound, err error) bool {
	log.Warn("pipeline event rejected", "type", msg.Type, "err", err)
	_ = write(conn, Outbound{Type: MsgError, Error: err.Error()})
	return errors.Is(err, orchestrator.ErrFinished) || errors.Is(err, orchestrator.ErrNoSession)
}

func write(conn *websocket.Conn, m Outbound) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(m)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
