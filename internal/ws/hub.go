// Package ws is the WebSocket transport: one Client per connection, commands
// handled inline on the read loop, events pushed through the session registry.
package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/registry"
)

const commandTimeout = 5 * time.Second

// ChatService is what the hub needs from the service layer.
type ChatService interface {
	Send(ctx context.Context, cmd model.SendCommand) (*model.Message, error)
	Typing(ctx context.Context, cmd model.TypingCommand) error
	MarkSeen(ctx context.Context, viewerID, otherID, groupID string) ([]model.Message, error)
	Acknowledge(ctx context.Context, userID string, messageID int64) (*model.Message, error)
	Connected(ctx context.Context, userID string)
	Disconnected(ctx context.Context, userID string)
}

type Options struct {
	MaxConnections   int
	ChatBufferSize   int
	TypingBufferSize int
	WriteTimeout     time.Duration
	PongTimeout      time.Duration
	MaxMessageSize   int64
}

func (o *Options) withDefaults() {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 10000
	}
	if o.ChatBufferSize <= 0 {
		o.ChatBufferSize = 256
	}
	if o.TypingBufferSize <= 0 {
		o.TypingBufferSize = 16
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 16 << 10
	}
}

// Hub owns the connection lifecycle. Register/unregister go through Run so
// online/offline notifications for one user are issued in order.
type Hub struct {
	reg        *registry.Registry
	svc        ChatService
	opts       Options
	register   chan *Client
	unregister chan *Client
	// done is closed when shutdown starts.
	done chan struct{}
}

func NewHub(reg *registry.Registry, svc ChatService, opts Options) *Hub {
	opts.withDefaults()
	return &Hub{
		reg:        reg,
		svc:        svc,
		opts:       opts,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) pingPeriod() time.Duration {
	return (h.opts.PongTimeout * 9) / 10
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Available reports whether the hub still accepts connections.
func (h *Hub) Available() bool { return !h.stopped() }

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	conns := h.reg.All()
	// Close connections first (network I/O), then wait for the pumps.
	for _, c := range conns {
		c.Close()
	}
	for _, c := range conns {
		if cl, ok := c.(*Client); ok {
			cl.Wait()
		}
		h.reg.Unregister(c)
	}
	logger.Infof("ws hub stopped, closed %d connections", len(conns))
}

func (h *Hub) addClient(c *Client) {
	if c.closed() {
		return
	}
	if h.reg.Count() >= h.opts.MaxConnections {
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.opts.MaxConnections, c.userID)
		c.Close()
		return
	}
	first := h.reg.Register(c.userID, c)
	c.registered.Store(true)
	metrics.WebSocketConnections.Inc()

	if first {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		h.svc.Connected(ctx, c.userID)
	}
}

func (h *Hub) removeClient(c *Client) {
	last := h.reg.Unregister(c)
	if c.registered.CompareAndSwap(true, false) {
		metrics.WebSocketConnections.Dec()
	}
	if last {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		h.svc.Disconnected(ctx, c.userID)
	}
}

// Register hands a started client to the hub. After shutdown the client is
// closed and model.ErrTransportUnavailable returned.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		c.Close()
		return model.ErrTransportUnavailable
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		if c.registered.CompareAndSwap(true, false) {
			metrics.WebSocketConnections.Dec()
		}
	}
}

// HandleMessage dispatches one client command. Replies (sent acks and error
// frames) go to the issuing session only.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch strings.TrimSpace(msg.Destination) {
	case DestSend:
		err = h.handleSend(ctx, c, msg.Body)
	case DestTyping:
		h.handleTyping(ctx, c, msg.Body)
	case DestSeen:
		err = h.handleSeen(ctx, c, msg.Body)
	case DestAck:
		err = h.handleAck(ctx, c, msg.Body)
	default:
		_ = c.Push(model.ChatEvent(model.EventError, model.ErrorPayload{
			Code:    "unknown_destination",
			Message: "unknown destination " + msg.Destination,
		}))
		return
	}
	if err != nil {
		if model.ErrorCode(err) == "internal" {
			logger.Errorf("ws %s user=%s: %v", msg.Destination, c.userID, err)
		}
		_ = c.Push(errorEvent(err))
	}
}

func decodeBody(body json.RawMessage, v any) error {
	if len(body) == 0 {
		return model.ErrInvalidMessage
	}
	if err := json.Unmarshal(body, v); err != nil {
		return model.ErrInvalidMessage
	}
	return nil
}

func (h *Hub) handleSend(ctx context.Context, c *Client, body json.RawMessage) error {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	var cmd model.SendCommand
	if err := decodeBody(body, &cmd); err != nil {
		return err
	}
	// The session's identity is authoritative; a body naming someone else is refused.
	if cmd.SenderID != "" && cmd.SenderID != c.userID {
		return model.ErrForbidden
	}
	cmd.SenderID = c.userID
	m, err := h.svc.Send(ctx, cmd)
	if err != nil {
		return err
	}
	_ = c.Push(model.ChatEvent(model.EventSent, m))
	return nil
}

// handleTyping never replies: typing is best effort.
func (h *Hub) handleTyping(ctx context.Context, c *Client, body json.RawMessage) {
	var cmd model.TypingCommand
	if err := decodeBody(body, &cmd); err != nil {
		return
	}
	cmd.From = c.userID
	if err := h.svc.Typing(ctx, cmd); err != nil {
		logger.Debugf("ws typing user=%s dropped: %v", c.userID, err)
	}
}

func (h *Hub) handleSeen(ctx context.Context, c *Client, body json.RawMessage) error {
	var cmd model.SeenCommand
	if err := decodeBody(body, &cmd); err != nil {
		return err
	}
	_, err := h.svc.MarkSeen(ctx, c.userID, cmd.ReceiverID, cmd.GroupID)
	return err
}

func (h *Hub) handleAck(ctx context.Context, c *Client, body json.RawMessage) error {
	var cmd model.AckCommand
	if err := decodeBody(body, &cmd); err != nil {
		return err
	}
	if cmd.MessageID <= 0 {
		return model.ErrUnknownMessage
	}
	_, err := h.svc.Acknowledge(ctx, c.userID, cmd.MessageID)
	return err
}
