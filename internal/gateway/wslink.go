package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/flight-arbiter/internal/logging"
	"github.com/large-farva/flight-arbiter/internal/telemetry"
)

// WSLink talks to a vehicle bridge process over a WebSocket. The bridge owns
// the flight-controller protocol; frames on the wire are JSON envelopes:
//
//	{"type": "telemetry", "data": {...telemetry frame...}}
//	{"type": "ack", "correlation_id": "...", "status": "ok|error", "detail": "..."}
//	{"type": "command", "command": "RTL", "params": {...}, "correlation_id": "..."}
type WSLink struct {
	URL         string
	DialTimeout time.Duration
	// ReadTimeout bounds the gap between inbound messages. The bridge streams
	// telemetry several times a second, so silence means the link is gone.
	ReadTimeout time.Duration
	Log         *logging.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

type wireMessage struct {
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	Command       Command         `json:"command,omitempty"`
	Params        *Params         `json:"params,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Status        Status          `json:"status,omitempty"`
	Detail        string          `json:"detail,omitempty"`
}

var errNoConn = errors.New("websocket link is not running")

func (l *WSLink) Send(ctx context.Context, req Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return errNoConn
	}

	deadline := time.Now().Add(3 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = l.conn.SetWriteDeadline(deadline)
	return l.conn.WriteJSON(wireMessage{
		Type:          "command",
		Command:       req.Command,
		Params:        &req.Params,
		CorrelationID: req.CorrelationID,
	})
}

func (l *WSLink) Run(ctx context.Context, sink Sink) error {
	dialer := websocket.Dialer{HandshakeTimeout: l.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, l.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.URL, err)
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		_ = conn.Close()
	}()

	// Unblock ReadMessage when the caller cancels.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	readTimeout := l.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			l.Log.Warn("bad message from vehicle bridge", "error", err)
			continue
		}

		switch msg.Type {
		case "telemetry":
			f, err := telemetry.Decode(msg.Data)
			if err != nil {
				l.Log.Warn("bad telemetry frame", "error", err)
				continue
			}
			sink.Frame(f)
		case "ack":
			sink.Ack(Response{CorrelationID: msg.CorrelationID, Status: msg.Status, Detail: msg.Detail})
		default:
			l.Log.Debug("ignoring bridge message", "type", msg.Type)
		}
	}
}
