package storage

import (
	"context"
	"time"

	"github.com/chatrelay/internal/model"
)

// MessageStore — хранилище сообщений. Сообщения только добавляются; меняется лишь статус, и только вперёд.
// Реализации: repository.MessageRepository (PostgreSQL), memory.MessageStore (для -dev и тестов).
type MessageStore interface {
	// Append присваивает ID, CreatedAt (если пусто) и статус SENT, затем сохраняет.
	Append(ctx context.Context, m *model.Message) error
	// Get возвращает model.ErrUnknownMessage, если сообщения нет.
	Get(ctx context.Context, id int64) (*model.Message, error)
	// History — сообщения беседы по возрастанию (createdAt, id).
	History(ctx context.Context, ref model.ConversationRef, q model.HistoryQuery) ([]model.Message, error)
	// AdvanceStatus меняет статус, только если новый строго больше текущего.
	AdvanceStatus(ctx context.Context, id int64, status model.Status) (msg *model.Message, changed bool, err error)
	// MarkConversationSeen переводит в SEEN все чужие сообщения беседы и возвращает изменённые.
	MarkConversationSeen(ctx context.Context, ref model.ConversationRef, viewerID string) ([]model.Message, error)
	// Conversations — сводка по беседам пользователя: личные из истории, групповые по groupIDs.
	Conversations(ctx context.Context, userID string, groupIDs []string) ([]model.ChatSummary, error)
	// Peers — собеседники пользователя по личным беседам.
	Peers(ctx context.Context, userID string) ([]string, error)
}

// GroupStore — группы и членство. Группа без участников остаётся в хранилище.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *model.Group) error
	// GetGroup возвращает model.ErrGroupNotFound, если группы нет.
	GetGroup(ctx context.Context, id string) (*model.Group, error)
	AddMember(ctx context.Context, groupID, userID string, admin bool) (added bool, err error)
	RemoveMember(ctx context.Context, groupID, userID string) (removed bool, err error)
	UserGroups(ctx context.Context, userID string) ([]model.Group, error)
}

// RateLimiter — счётчик запросов в фиксированном окне.
// Реализации: redis.Client, memory.Client (для -dev без Redis).
type RateLimiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (allowed bool, err error)
}

// SubscriptionStore — подписки Web Push по пользователю.
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, userID string, sub model.PushSubscription) error
	RemoveSubscription(ctx context.Context, userID, endpoint string) error
	Subscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error)
}

// KeyValue объединяет то, что хранится в Redis или в памяти процесса.
type KeyValue interface {
	RateLimiter
	SubscriptionStore
	Close() error
}

// MaxSubscriptionsPerUser — сколько последних подписок хранится на пользователя.
const MaxSubscriptionsPerUser = 10

// SubscriptionTTL — подписка живёт 30 дней с последнего обновления.
const SubscriptionTTL = 30 * 24 * time.Hour
