package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/startup"
)

// Runs against a disposable database: TEST_DATABASE_URL=postgres://...
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, startup.RunMigrations(ctx, pool))
	return pool
}

// uniqueUser keeps test runs independent on a shared database.
func uniqueUser(name string) string {
	return name + "-" + uuid.NewString()[:8]
}

func TestMessageRepository_DirectFlow(t *testing.T) {
	pool := newTestPool(t)
	repo := NewMessageRepository(pool)
	ctx := context.Background()
	a, b := uniqueUser("a"), uniqueUser("b")
	base := time.Now().UTC().Truncate(time.Millisecond)

	var ids []int64
	for i, text := range []string{"one", "two", "three"} {
		m := &model.Message{SenderID: a, ReceiverID: b, Content: text, Type: model.MessageTypeText,
			CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, repo.Append(ctx, m))
		assert.NotZero(t, m.ID)
		assert.Equal(t, model.StatusSent, m.Status)
		ids = append(ids, m.ID)
	}
	ref := model.DirectConversation(b, a)

	hist, err := repo.History(ctx, ref, model.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "one", hist[0].Content)
	assert.Equal(t, "three", hist[2].Content)

	page, err := repo.History(ctx, ref, model.HistoryQuery{BeforeID: ids[2], Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "two", page[0].Content)

	_, err = repo.History(ctx, model.DirectConversation(a, uniqueUser("c")), model.HistoryQuery{BeforeID: ids[0]})
	assert.ErrorIs(t, err, model.ErrUnknownMessage)

	got, changed, err := repo.AdvanceStatus(ctx, ids[0], model.StatusDelivered)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.StatusDelivered, got.Status)

	got, changed, err = repo.AdvanceStatus(ctx, ids[0], model.StatusSent)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.StatusDelivered, got.Status)

	_, _, err = repo.AdvanceStatus(ctx, -1, model.StatusSeen)
	assert.ErrorIs(t, err, model.ErrUnknownMessage)

	seen, err := repo.MarkConversationSeen(ctx, ref, b)
	require.NoError(t, err)
	require.Len(t, seen, 3)
	assert.Equal(t, ids[0], seen[0].ID)

	sums, err := repo.Conversations(ctx, b, nil)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, a, sums[0].UserID)
	assert.Equal(t, 0, sums[0].UnreadCount)
	assert.Equal(t, "three", sums[0].LastMessage.Content)

	peers, err := repo.Peers(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, peers)
}

func TestMessageRepository_CreatedAtMatchesStored(t *testing.T) {
	pool := newTestPool(t)
	repo := NewMessageRepository(pool)
	ctx := context.Background()

	m := &model.Message{SenderID: uniqueUser("a"), ReceiverID: uniqueUser("b"), Content: "now", Type: model.MessageTypeText}
	require.NoError(t, repo.Append(ctx, m))

	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt), "appended %v, stored %v", m.CreatedAt, got.CreatedAt)
	assert.Zero(t, m.CreatedAt.Nanosecond()%1000)
}

func TestMessageRepository_ColonIDsKeepPairsApart(t *testing.T) {
	pool := newTestPool(t)
	repo := NewMessageRepository(pool)
	ctx := context.Background()
	a := uniqueUser("a")
	ab, c := a+":b", "c"+a

	m := &model.Message{SenderID: ab, ReceiverID: c, Content: "private", Type: model.MessageTypeText}
	require.NoError(t, repo.Append(ctx, m))

	// Plain ':'-joined keys of the two pairs would be identical.
	hist, err := repo.History(ctx, model.DirectConversation(a, "b:"+c), model.HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, hist)

	sums, err := repo.Conversations(ctx, c, nil)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, ab, sums[0].UserID)
}

func TestGroupRepository(t *testing.T) {
	pool := newTestPool(t)
	repo := NewGroupRepository(pool)
	ctx := context.Background()
	admin, member, late := uniqueUser("admin"), uniqueUser("member"), uniqueUser("late")

	g := &model.Group{
		ID:        uuid.NewString(),
		Name:      "team",
		CreatedBy: admin,
		CreatedAt: time.Now().UTC(),
		MemberIDs: []string{admin, member},
		AdminIDs:  []string{admin},
	}
	require.NoError(t, repo.CreateGroup(ctx, g))

	got, err := repo.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{admin, member}, got.MemberIDs)
	assert.Equal(t, []string{admin}, got.AdminIDs)

	_, err = repo.GetGroup(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, model.ErrGroupNotFound)
	_, err = repo.GetGroup(ctx, uuid.NewString())
	assert.ErrorIs(t, err, model.ErrGroupNotFound)

	added, err := repo.AddMember(ctx, g.ID, late, false)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = repo.AddMember(ctx, g.ID, late, false)
	require.NoError(t, err)
	assert.False(t, added)

	removed, err := repo.RemoveMember(ctx, g.ID, admin)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.RemoveMember(ctx, g.ID, admin)
	require.NoError(t, err)
	assert.False(t, removed)

	groups, err := repo.UserGroups(ctx, late)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []string{member, late}, groups[0].MemberIDs)
	assert.Empty(t, groups[0].AdminIDs)
}
