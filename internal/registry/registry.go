// Package registry tracks which users are reachable right now and through
// which connections. Nothing here is persisted: a process restart starts empty.
package registry

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
)

const shardCount = 64

// Conn is a live connection handle owned by a transport.
// Push must not block; it returns model.ErrStaleSession once the handle is dead.
type Conn interface {
	ID() string
	Push(ev model.Event) error
	Close()
}

type entry struct {
	conn        Conn
	connectedAt time.Time
}

type shard struct {
	mu    sync.RWMutex
	users map[string]map[string]entry // userID -> connID -> entry
}

// Registry is safe for concurrent use. Users are spread across shards by
// FNV-1a of the user ID; each shard has its own lock.
type Registry struct {
	shards [shardCount]*shard
	// connID -> userID, so Unregister needs only the handle.
	owners sync.Map
	now    func() time.Time
}

func New() *Registry {
	r := &Registry{now: time.Now}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[string]map[string]entry)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Register adds conn as a session of userID without disturbing the user's
// other sessions. It reports whether this is the user's first live session.
// Re-registering the same connection ID replaces the handle.
func (r *Registry) Register(userID string, conn Conn) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	conns, ok := s.users[userID]
	if !ok {
		conns = make(map[string]entry, 1)
		s.users[userID] = conns
	}
	first := len(conns) == 0
	conns[conn.ID()] = entry{conn: conn, connectedAt: r.now().UTC()}
	s.mu.Unlock()

	r.owners.Store(conn.ID(), userID)
	return first
}

// Unregister removes exactly this connection. It reports whether the user
// has no live session left. Unknown or already removed handles are a no-op.
func (r *Registry) Unregister(conn Conn) bool {
	v, ok := r.owners.Load(conn.ID())
	if !ok {
		return false
	}
	userID := v.(string)

	s := r.shardFor(userID)
	s.mu.Lock()
	conns := s.users[userID]
	e, ok := conns[conn.ID()]
	// A newer handle with the same ID may have replaced this one.
	if !ok || e.conn != conn {
		s.mu.Unlock()
		return false
	}
	delete(conns, conn.ID())
	last := len(conns) == 0
	if last {
		delete(s.users, userID)
	}
	s.mu.Unlock()

	r.owners.CompareAndDelete(conn.ID(), userID)
	return last
}

// Lookup returns a snapshot of the user's live connections.
func (r *Registry) Lookup(userID string) []Conn {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.users[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(conns))
	for _, e := range conns {
		out = append(out, e.conn)
	}
	return out
}

func (r *Registry) Sessions(userID string) []model.Session {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.users[userID]
	out := make([]model.Session, 0, len(conns))
	for id, e := range conns {
		out = append(out, model.Session{UserID: userID, ConnID: id, ConnectedAt: e.connectedAt})
	}
	return out
}

func (r *Registry) Online(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID]) > 0
}

// Count returns the number of live connections across all users.
func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, conns := range s.users {
			n += len(conns)
		}
		s.mu.RUnlock()
	}
	return n
}

// All returns every live connection; used for shutdown.
func (r *Registry) All() []Conn {
	var out []Conn
	for _, s := range r.shards {
		s.mu.RLock()
		for _, conns := range s.users {
			for _, e := range conns {
				out = append(out, e.conn)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Deliver pushes ev to every live session of userID. Handles that report
// model.ErrStaleSession are unregistered and closed. It returns the number of
// successful pushes and whether dropping a stale handle took the user offline.
func (r *Registry) Deliver(userID string, ev model.Event) (delivered int, offline bool) {
	for _, c := range r.Lookup(userID) {
		err := c.Push(ev)
		switch {
		case err == nil:
			delivered++
			metrics.PushesTotal.WithLabelValues(string(ev.Channel), "ok").Inc()
		case errors.Is(err, model.ErrStaleSession):
			metrics.PushesTotal.WithLabelValues(string(ev.Channel), "stale").Inc()
			logger.Debugf("registry: stale session user=%s conn=%s", userID, c.ID())
			if r.Unregister(c) {
				offline = true
			}
			c.Close()
		default:
			metrics.PushesTotal.WithLabelValues(string(ev.Channel), "error").Inc()
			logger.Errorf("registry: push user=%s conn=%s: %v", userID, c.ID(), err)
		}
	}
	return delivered, offline
}
