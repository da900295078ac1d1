// Package service orchestrates the send path (resolve, persist, route) and the
// read-side operations shared by the WebSocket and HTTP surfaces.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatrelay/internal/directory"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/router"
	"github.com/chatrelay/internal/storage"
)

type Options struct {
	SendRateLimit       int
	SendRateWindow      time.Duration
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

func (o *Options) withDefaults() {
	if o.HistoryDefaultLimit <= 0 {
		o.HistoryDefaultLimit = 50
	}
	if o.HistoryMaxLimit < o.HistoryDefaultLimit {
		o.HistoryMaxLimit = o.HistoryDefaultLimit
	}
	if o.SendRateWindow <= 0 {
		o.SendRateWindow = 10 * time.Second
	}
}

type ChatService struct {
	dir      *directory.Directory
	store    storage.MessageStore
	router   *router.Router
	presence *presence.Broadcaster
	limiter  storage.RateLimiter
	opts     Options
}

// NewChatService wires the core components. limiter may be nil (no send limit).
func NewChatService(
	dir *directory.Directory,
	store storage.MessageStore,
	rt *router.Router,
	pr *presence.Broadcaster,
	limiter storage.RateLimiter,
	opts Options,
) *ChatService {
	opts.withDefaults()
	return &ChatService{dir: dir, store: store, router: rt, presence: pr, limiter: limiter, opts: opts}
}

func (s *ChatService) allowSend(ctx context.Context, userID string) error {
	if s.limiter == nil || s.opts.SendRateLimit <= 0 {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, "send:"+userID, s.opts.SendRateLimit, s.opts.SendRateWindow)
	if err != nil {
		// Лимитер недоступен — не блокируем отправку.
		logger.Errorf("service: rate limit user=%s: %v", userID, err)
		return nil
	}
	if !ok {
		return model.ErrRateLimited
	}
	return nil
}

func (s *ChatService) requireMember(ctx context.Context, ref model.ConversationRef, userID string) error {
	ok, err := s.dir.IsMember(ctx, ref, userID)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrNotMember
	}
	return nil
}

// Send validates, persists and routes a message. A persistence failure fails
// the send; routing problems never do. The returned message carries the
// status reached during routing.
func (s *ChatService) Send(ctx context.Context, cmd model.SendCommand) (*model.Message, error) {
	defer logger.DeferLogDuration("service.Send", time.Now())()
	senderID := strings.TrimSpace(cmd.SenderID)
	if senderID == "" {
		return nil, model.ErrInvalidMessage
	}
	ref, err := s.dir.Resolve(senderID, cmd.ReceiverID, cmd.GroupID)
	if err != nil {
		return nil, err
	}
	m := &model.Message{
		SenderID: senderID,
		Content:  cmd.Content,
		MediaURL: strings.TrimSpace(cmd.MediaURL),
		Type:     model.MessageType(cmd.Type),
	}
	if ref.IsGroup() {
		m.GroupID = ref.GroupID
	} else {
		m.ReceiverID = ref.Peer(senderID)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, ref, senderID); err != nil {
		return nil, err
	}
	if err := s.allowSend(ctx, senderID); err != nil {
		return nil, err
	}

	if err := s.store.Append(ctx, m); err != nil {
		return nil, fmt.Errorf("service.Send: %w", err)
	}
	metrics.MessagesPersisted.WithLabelValues(string(ref.Kind)).Inc()

	m.Status = s.router.Route(ctx, m)
	return m, nil
}

func (s *ChatService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.opts.HistoryDefaultLimit
	}
	if limit > s.opts.HistoryMaxLimit {
		return s.opts.HistoryMaxLimit
	}
	return limit
}

// History pages through a conversation the viewer takes part in. Reading
// history does not change any message status.
func (s *ChatService) History(ctx context.Context, viewerID, otherID, groupID string, q model.HistoryQuery) ([]model.Message, error) {
	ref, err := s.dir.Resolve(viewerID, otherID, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, ref, viewerID); err != nil {
		return nil, err
	}
	q.Limit = s.clampLimit(q.Limit)
	return s.store.History(ctx, ref, q)
}

// MarkSeen marks everything the viewer received in the conversation as SEEN
// and tells the senders.
func (s *ChatService) MarkSeen(ctx context.Context, viewerID, otherID, groupID string) ([]model.Message, error) {
	ref, err := s.dir.Resolve(viewerID, otherID, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, ref, viewerID); err != nil {
		return nil, err
	}
	changed, err := s.store.MarkConversationSeen(ctx, ref, viewerID)
	if err != nil {
		return nil, fmt.Errorf("service.MarkSeen: %w", err)
	}
	if len(changed) > 0 {
		s.router.PublishStatus(ctx, viewerID, changed)
	}
	return changed, nil
}

// Acknowledge records that a recipient's device received a message.
func (s *ChatService) Acknowledge(ctx context.Context, userID string, messageID int64) (*model.Message, error) {
	m, err := s.store.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID == userID {
		return nil, model.ErrForbidden
	}
	if err := s.requireMember(ctx, m.Conversation(), userID); err != nil {
		return nil, err
	}
	updated, changed, err := s.store.AdvanceStatus(ctx, messageID, model.StatusDelivered)
	if err != nil {
		return nil, fmt.Errorf("service.Acknowledge: %w", err)
	}
	if changed {
		s.router.PublishStatus(ctx, userID, []model.Message{*updated})
	}
	return updated, nil
}

// Chats lists the user's conversations, newest first. Groups without any
// message yet are listed by creation time.
func (s *ChatService) Chats(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	groups, err := s.dir.GroupsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service.Chats groups: %w", err)
	}
	ids := make([]string, 0, len(groups))
	byID := make(map[string]model.Group, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
		byID[g.ID] = g
	}
	sums, err := s.store.Conversations(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("service.Chats: %w", err)
	}
	listed := make(map[string]bool, len(sums))
	for i := range sums {
		if sums[i].IsGroup {
			sums[i].Name = byID[sums[i].GroupID].Name
			listed[sums[i].GroupID] = true
		}
	}
	for _, g := range groups {
		if listed[g.ID] {
			continue
		}
		sums = append(sums, model.ChatSummary{
			ChatID:    model.GroupConversation(g.ID).Key(),
			GroupID:   g.ID,
			Name:      g.Name,
			IsGroup:   true,
			UpdatedAt: g.CreatedAt,
		})
	}
	storage.SortSummaries(sums)
	return sums, nil
}

// Typing forwards a typing indicator. Errors only mean the event is dropped.
func (s *ChatService) Typing(ctx context.Context, cmd model.TypingCommand) error {
	ref, err := s.dir.ResolveTypingTarget(ctx, cmd.From, cmd.To, cmd.GroupID)
	if err != nil {
		return err
	}
	if err := s.requireMember(ctx, ref, cmd.From); err != nil {
		return err
	}
	s.presence.NotifyTyping(ctx, cmd.From, ref, cmd.Typing)
	return nil
}

func (s *ChatService) Online(userID string) bool {
	return s.presence.Online(userID)
}

// Connected and Disconnected are called by transports on a user's first and
// last session.
func (s *ChatService) Connected(ctx context.Context, userID string) {
	s.presence.NotifyPresence(ctx, userID, true)
}

func (s *ChatService) Disconnected(ctx context.Context, userID string) {
	s.presence.NotifyPresence(ctx, userID, false)
}
