// Package registrytest provides an in-memory registry.Conn for tests.
package registrytest

import (
	"sync"

	"github.com/google/uuid"

	"github.com/chatrelay/internal/model"
)

// Conn records every pushed event. After Close, Push returns model.ErrStaleSession.
type Conn struct {
	id string

	mu     sync.Mutex
	events []model.Event
	closed bool
}

func NewConn() *Conn {
	return &Conn{id: uuid.NewString()}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Push(ev model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return model.ErrStaleSession
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a copy of everything pushed so far.
func (c *Conn) Events() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Event(nil), c.events...)
}

// OfType filters recorded events by type.
func (c *Conn) OfType(t model.EventType) []model.Event {
	var out []model.Event
	for _, ev := range c.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}
