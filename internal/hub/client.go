package hub

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/openbms/devicebus/internal/constants"
	"github.com/openbms/devicebus/internal/models"
)

// Message types pushed to editor clients.
const (
	messageTypeState         = "state"
	messageTypeAck           = "ack"
	messageTypeCommandResult = "command_result"
)

// SessionController drives session lifecycle on behalf of editor
// clients.
type SessionController interface {
	Start(identity models.SessionIdentity) error
	Stop() error
}

// CommandSender dispatches validated commands to the device behind the
// active session.
type CommandSender interface {
	Send(ctx context.Context, command string, payload json.RawMessage) (json.RawMessage, error)
}

// controlMessage is one inbound frame from an editor client.
type controlMessage struct {
	Action   string                 `json:"action"`
	ID       string                 `json:"id,omitempty"`
	Identity models.SessionIdentity `json:"identity,omitempty"`
	Command  string                 `json:"command,omitempty"`
	Payload  json.RawMessage        `json:"payload,omitempty"`
}

type ackMessage struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

type commandResult struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command"`
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type stateEnvelope struct {
	Type  string              `json:"type"`
	State models.SessionState `json:"state"`
}

// Client is one connected editor.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	sessions SessionController
	commands CommandSender
	user     string
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, hub *Hub, sessions SessionController, commands CommandSender, user string) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      hub,
		sessions: sessions,
		commands: commands,
		user:     user,
	}
}

// ReadPump consumes control frames until the connection dies.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.hub.logger.Debug().Str("user", c.user).Msg("Editor client disconnected")
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn().Err(err).Str("user", c.user).Msg("Editor connection error")
			}
			return
		}

		var control controlMessage
		if err := jsonFast.Unmarshal(msg, &control); err != nil {
			c.hub.logger.Warn().Err(err).Str("user", c.user).Msg("Discarding undecodable control frame")
			continue
		}

		c.handleControl(control)
	}
}

// WritePump drains the outbound queue onto the socket.
func (c *Client) WritePump() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.hub.logger.Debug().Err(err).Str("user", c.user).Msg("Editor write failed")
			return
		}
	}
}

// handleControl executes one control frame. Session lifecycle actions
// run inline; command round trips get their own goroutine so one slow
// device call cannot block a client's stop request.
func (c *Client) handleControl(control controlMessage) {
	switch control.Action {
	case "start":
		err := c.sessions.Start(control.Identity)
		c.ack(control, err)
	case "stop":
		err := c.sessions.Stop()
		c.ack(control, err)
	case "command":
		go c.runCommand(control)
	default:
		c.hub.logger.Warn().Str("action", control.Action).Str("user", c.user).Msg("Unknown control action")
	}
}

func (c *Client) runCommand(control controlMessage) {
	result := commandResult{
		Type:    messageTypeCommandResult,
		ID:      control.ID,
		Command: control.Command,
	}

	payload, err := c.commands.Send(context.Background(), control.Command, control.Payload)
	if err != nil {
		result.Status = constants.CommandStatusFailed
		result.Error = err.Error()
	} else {
		result.Status = constants.CommandStatusSuccess
		result.Payload = payload
	}

	c.reply(result)
}

func (c *Client) ack(control controlMessage, err error) {
	ack := ackMessage{
		Type:   messageTypeAck,
		ID:     control.ID,
		Action: control.Action,
	}
	if err != nil {
		ack.Error = err.Error()
	}
	c.reply(ack)
}

func (c *Client) reply(v any) {
	msg, err := jsonFast.Marshal(v)
	if err != nil {
		c.hub.logger.Error().Err(err).Msg("Failed to encode reply")
		return
	}
	c.enqueue(msg)
}

func (c *Client) enqueue(msg []byte) {
	c.hub.deliver(c, msg)
}
