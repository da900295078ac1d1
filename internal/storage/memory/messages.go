package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

// conversation holds one conversation's messages ordered by (CreatedAt, ID).
// All reads and status changes of its messages go through mu.
type conversation struct {
	ref  model.ConversationRef
	mu   sync.Mutex
	msgs []*model.Message
	byID map[int64]*model.Message
}

// MessageStore реализует storage.MessageStore в памяти процесса.
// Блокировка на беседу: запись в разные беседы не конкурирует.
type MessageStore struct {
	nextID atomic.Int64

	mu    sync.RWMutex
	convs map[string]*conversation

	// id -> *conversation
	index sync.Map
	now   func() time.Time
}

var _ storage.MessageStore = (*MessageStore)(nil)

func NewMessageStore() *MessageStore {
	return &MessageStore{
		convs: make(map[string]*conversation),
		now:   time.Now,
	}
}

func (s *MessageStore) conversation(ref model.ConversationRef, create bool) *conversation {
	key := ref.Key()
	s.mu.RLock()
	c, ok := s.convs[key]
	s.mu.RUnlock()
	if ok || !create {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.convs[key]; ok {
		return c
	}
	c = &conversation{ref: ref, byID: make(map[int64]*model.Message)}
	s.convs[key] = c
	return c
}

func (s *MessageStore) Append(ctx context.Context, m *model.Message) error {
	if m == nil {
		return model.ErrInvalidMessage
	}
	m.ID = s.nextID.Add(1)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	m.Status = model.StatusSent

	stored := *m
	c := s.conversation(m.Conversation(), true)
	c.mu.Lock()
	i := sort.Search(len(c.msgs), func(i int) bool { return stored.Before(c.msgs[i]) })
	c.msgs = append(c.msgs, nil)
	copy(c.msgs[i+1:], c.msgs[i:])
	c.msgs[i] = &stored
	c.byID[stored.ID] = &stored
	// Index before unlocking: once History can see the message, Get must find it.
	s.index.Store(stored.ID, c)
	c.mu.Unlock()
	return nil
}

func (s *MessageStore) Get(ctx context.Context, id int64) (*model.Message, error) {
	v, ok := s.index.Load(id)
	if !ok {
		return nil, model.ErrUnknownMessage
	}
	c := v.(*conversation)
	c.mu.Lock()
	defer c.mu.Unlock()
	m := *c.byID[id]
	return &m, nil
}

func (s *MessageStore) History(ctx context.Context, ref model.ConversationRef, q model.HistoryQuery) ([]model.Message, error) {
	c := s.conversation(ref, false)
	if c == nil {
		if q.BeforeID != 0 {
			return nil, model.ErrUnknownMessage
		}
		return []model.Message{}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	end := len(c.msgs)
	if q.BeforeID != 0 {
		cursor, ok := c.byID[q.BeforeID]
		if !ok {
			return nil, model.ErrUnknownMessage
		}
		end = sort.Search(len(c.msgs), func(i int) bool { return !c.msgs[i].Before(cursor) })
	}
	start := 0
	if q.Limit > 0 && end-start > q.Limit {
		start = end - q.Limit
	}
	out := make([]model.Message, 0, end-start)
	for _, m := range c.msgs[start:end] {
		out = append(out, *m)
	}
	return out, nil
}

func (s *MessageStore) AdvanceStatus(ctx context.Context, id int64, status model.Status) (*model.Message, bool, error) {
	if !status.Valid() {
		return nil, false, fmt.Errorf("memory.AdvanceStatus: status %d: %w", status, model.ErrInvalidMessage)
	}
	v, ok := s.index.Load(id)
	if !ok {
		return nil, false, model.ErrUnknownMessage
	}
	c := v.(*conversation)
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.byID[id]
	changed := status > m.Status
	if changed {
		m.Status = status
	}
	out := *m
	return &out, changed, nil
}

func (s *MessageStore) MarkConversationSeen(ctx context.Context, ref model.ConversationRef, viewerID string) ([]model.Message, error) {
	c := s.conversation(ref, false)
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed []model.Message
	for _, m := range c.msgs {
		if m.SenderID == viewerID || m.Status >= model.StatusSeen {
			continue
		}
		m.Status = model.StatusSeen
		changed = append(changed, *m)
	}
	return changed, nil
}

func (s *MessageStore) snapshot() []*conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c)
	}
	return out
}

func (s *MessageStore) Conversations(ctx context.Context, userID string, groupIDs []string) ([]model.ChatSummary, error) {
	groups := make(map[string]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		groups[id] = struct{}{}
	}
	var out []model.ChatSummary
	for _, c := range s.snapshot() {
		if c.ref.IsGroup() {
			if _, ok := groups[c.ref.GroupID]; !ok {
				continue
			}
		} else if c.ref.UserA != userID && c.ref.UserB != userID {
			continue
		}

		c.mu.Lock()
		if len(c.msgs) == 0 {
			c.mu.Unlock()
			continue
		}
		last := *c.msgs[len(c.msgs)-1]
		unread := 0
		for _, m := range c.msgs {
			if m.SenderID != userID && m.Status < model.StatusSeen {
				unread++
			}
		}
		c.mu.Unlock()

		sum := model.ChatSummary{
			ChatID:      c.ref.Key(),
			IsGroup:     c.ref.IsGroup(),
			LastMessage: &last,
			UnreadCount: unread,
			UpdatedAt:   last.CreatedAt,
		}
		if c.ref.IsGroup() {
			sum.GroupID = c.ref.GroupID
		} else {
			sum.UserID = c.ref.Peer(userID)
		}
		out = append(out, sum)
	}
	storage.SortSummaries(out)
	return out, nil
}

func (s *MessageStore) Peers(ctx context.Context, userID string) ([]string, error) {
	var out []string
	for _, c := range s.snapshot() {
		if c.ref.IsGroup() {
			continue
		}
		if c.ref.UserA == userID || c.ref.UserB == userID {
			out = append(out, c.ref.Peer(userID))
		}
	}
	sort.Strings(out)
	return out, nil
}
