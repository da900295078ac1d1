package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

const messageColumns = `id, sender_id, receiver_id, group_id, content, media_url, type, status, created_at`

// MessageRepository реализует storage.MessageStore в PostgreSQL.
// Монотонность статуса обеспечивает условие status < $n в UPDATE.
type MessageRepository struct {
	pool *pgxpool.Pool
}

var _ storage.MessageStore = (*MessageRepository)(nil)

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	m := &model.Message{}
	var status int16
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID, &m.Content, &m.MediaURL, &m.Type, &status, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Status = model.Status(status)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]model.Message, error) {
	defer rows.Close()
	out := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *MessageRepository) Append(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Append", time.Now())()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	// PostgreSQL хранит микросекунды: ack и live-push должны совпадать с историей.
	m.CreatedAt = m.CreatedAt.UTC().Truncate(time.Microsecond)
	m.Status = model.StatusSent
	err := r.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_key, sender_id, receiver_id, group_id, content, media_url, type, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		m.Conversation().Key(), m.SenderID, m.ReceiverID, m.GroupID, m.Content, m.MediaURL, string(m.Type), int16(m.Status), m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("msgRepo.Append: %w", err)
	}
	return nil
}

func (r *MessageRepository) Get(ctx context.Context, id int64) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Get", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrUnknownMessage
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Get: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) History(ctx context.Context, ref model.ConversationRef, q model.HistoryQuery) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.History", time.Now())()
	key := ref.Key()

	var (
		beforeAt *time.Time
		beforeID *int64
		limit    *int
	)
	if q.BeforeID != 0 {
		var at time.Time
		err := r.pool.QueryRow(ctx,
			`SELECT created_at FROM messages WHERE id = $1 AND conversation_key = $2`, q.BeforeID, key,
		).Scan(&at)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUnknownMessage
		}
		if err != nil {
			return nil, fmt.Errorf("msgRepo.History cursor: %w", err)
		}
		beforeAt, beforeID = &at, &q.BeforeID
	}
	if q.Limit > 0 {
		limit = &q.Limit
	}

	// Берём последние limit строк до курсора и разворачиваем в хронологический порядок.
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM (
		     SELECT `+messageColumns+` FROM messages
		     WHERE conversation_key = $1
		       AND ($2::timestamptz IS NULL OR (created_at, id) < ($2::timestamptz, $3::bigint))
		     ORDER BY created_at DESC, id DESC
		     LIMIT $4
		 ) page
		 ORDER BY created_at, id`,
		key, beforeAt, beforeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.History query: %w", err)
	}
	out, err := collectMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.History scan: %w", err)
	}
	return out, nil
}

func (r *MessageRepository) AdvanceStatus(ctx context.Context, id int64, status model.Status) (*model.Message, bool, error) {
	defer logger.DeferLogDuration("msg.AdvanceStatus", time.Now())()
	if !status.Valid() {
		return nil, false, fmt.Errorf("msgRepo.AdvanceStatus: status %d: %w", status, model.ErrInvalidMessage)
	}
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`UPDATE messages SET status = $2 WHERE id = $1 AND status < $2 RETURNING `+messageColumns,
		id, int16(status)))
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("msgRepo.AdvanceStatus: %w", err)
	}
	// Строка не изменилась: либо статус уже не меньше, либо сообщения нет.
	m, err = r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return m, false, nil
}

func (r *MessageRepository) MarkConversationSeen(ctx context.Context, ref model.ConversationRef, viewerID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.MarkConversationSeen", time.Now())()
	rows, err := r.pool.Query(ctx,
		`UPDATE messages SET status = $3
		 WHERE conversation_key = $1 AND sender_id <> $2 AND status < $3
		 RETURNING `+messageColumns,
		ref.Key(), viewerID, int16(model.StatusSeen),
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.MarkConversationSeen: %w", err)
	}
	out, err := collectMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.MarkConversationSeen scan: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out, nil
}

func (r *MessageRepository) Conversations(ctx context.Context, userID string, groupIDs []string) ([]model.ChatSummary, error) {
	defer logger.DeferLogDuration("msg.Conversations", time.Now())()
	groupKeys := make([]string, 0, len(groupIDs))
	for _, id := range groupIDs {
		groupKeys = append(groupKeys, model.GroupConversation(id).Key())
	}
	rows, err := r.pool.Query(ctx,
		`WITH convs AS (
		     SELECT DISTINCT conversation_key FROM messages
		     WHERE group_id = '' AND (sender_id = $1 OR receiver_id = $1)
		     UNION
		     SELECT unnest($2::text[])
		 )
		 SELECT DISTINCT ON (m.conversation_key) m.conversation_key,
		        m.id, m.sender_id, m.receiver_id, m.group_id, m.content, m.media_url, m.type, m.status, m.created_at,
		        (SELECT count(*) FROM messages u
		         WHERE u.conversation_key = m.conversation_key AND u.sender_id <> $1 AND u.status < 2) AS unread
		 FROM messages m
		 JOIN convs c ON c.conversation_key = m.conversation_key
		 ORDER BY m.conversation_key, m.created_at DESC, m.id DESC`,
		userID, groupKeys,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Conversations query: %w", err)
	}
	defer rows.Close()

	var out []model.ChatSummary
	for rows.Next() {
		var (
			key    string
			m      model.Message
			status int16
			unread int64
		)
		if err := rows.Scan(&key, &m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID, &m.Content, &m.MediaURL, &m.Type, &status, &m.CreatedAt, &unread); err != nil {
			return nil, fmt.Errorf("msgRepo.Conversations scan: %w", err)
		}
		m.Status = model.Status(status)
		m.CreatedAt = m.CreatedAt.UTC()
		ref, ok := model.ParseConversationKey(key)
		if !ok {
			continue
		}
		sum := model.ChatSummary{
			ChatID:      key,
			IsGroup:     ref.IsGroup(),
			LastMessage: &m,
			UnreadCount: int(unread),
			UpdatedAt:   m.CreatedAt,
		}
		if ref.IsGroup() {
			sum.GroupID = ref.GroupID
		} else {
			sum.UserID = ref.Peer(userID)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.Conversations rows: %w", err)
	}
	storage.SortSummaries(out)
	return out, nil
}

func (r *MessageRepository) Peers(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("msg.Peers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS peer
		 FROM messages
		 WHERE group_id = '' AND (sender_id = $1 OR receiver_id = $1)
		 ORDER BY peer`, userID)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Peers: %w", err)
	}
	peers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Peers scan: %w", err)
	}
	return peers, nil
}
