package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sidegrid/sidegrid/internal/dispatch"
	"github.com/sidegrid/sidegrid/internal/fault"
)

// clientMessage is one request from the connected client.
type clientMessage struct {
	Type     string            `json:"type"`
	ScriptID string            `json:"script_id,omitempty"`
	Suite    string            `json:"suite,omitempty"`
	Test     string            `json:"test,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Script   string            `json:"script,omitempty"`
}

// serverMessage is one reply or notification to the client. Type is
// "connected" once at open, then "result" or "error" per message.
type serverMessage struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id,omitempty"`
	ExecutionID int64  `json:"execution_id,omitempty"`
	PageSource  string `json:"page_source,omitempty"`
	Value       any    `json:"value,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Error       string `json:"error,omitempty"`
}

// conn is one pinned connection. The read loop is the only reader; the
// write mutex serializes replies with shutdown traffic.
type conn struct {
	ws  *websocket.Conn
	pin *dispatch.Stream

	writeMu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// teardown releases the pin and closes the socket. Safe to call from
// both the read loop and Manager.Shutdown.
func (c *conn) teardown() {
	if c.pin != nil {
		if err := c.pin.Close(); err != nil {
			log.Printf("stream: release pin %s: %v", c.pin.SessionID(), err)
		}
	}
	_ = c.ws.Close()
}

// readLoop serves messages until the peer goes away, then releases the
// pin. Replies are written before the next read, so each message is
// answered in order.
func (c *conn) readLoop(ctx context.Context) {
	defer c.teardown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.handle(ctx, data)
	}
}

func (c *conn) handle(ctx context.Context, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.replyError(fmt.Errorf("parse message: %w", err))
		return
	}

	switch msg.Type {
	case "execute_side":
		res, err := c.pin.ExecuteSide(ctx, dispatch.Request{
			ScriptID: msg.ScriptID,
			Suite:    msg.Suite,
			Test:     msg.Test,
			Params:   msg.Params,
		})
		if err != nil {
			reply := serverMessage{Type: "error", Kind: fault.KindOf(err).String(), Error: err.Error()}
			if res != nil {
				reply.ExecutionID = res.ExecutionID
				reply.PageSource = res.PageSource
			}
			_ = c.writeJSON(reply)
			return
		}
		_ = c.writeJSON(serverMessage{
			Type:        "result",
			SessionID:   res.SessionID,
			ExecutionID: res.ExecutionID,
			PageSource:  res.PageSource,
		})

	case "execute_js":
		out, err := c.pin.ExecuteScript(ctx, msg.Script)
		if err != nil {
			c.replyError(err)
			return
		}
		_ = c.writeJSON(serverMessage{Type: "result", Value: out})

	case "get_page_source":
		src, err := c.pin.PageSource(ctx)
		if err != nil {
			c.replyError(err)
			return
		}
		_ = c.writeJSON(serverMessage{Type: "result", PageSource: src})

	default:
		c.replyError(fmt.Errorf("unsupported message type %q", msg.Type))
	}
}

func (c *conn) replyError(err error) {
	_ = c.writeJSON(serverMessage{
		Type:  "error",
		Kind:  fault.KindOf(err).String(),
		Error: err.Error(),
	})
}
