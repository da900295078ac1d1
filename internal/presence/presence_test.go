package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/directory"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/registry"
	"github.com/chatrelay/internal/registry/registrytest"
	"github.com/chatrelay/internal/storage/memory"
)

func setup() (*Broadcaster, *registry.Registry, *directory.Directory, *memory.MessageStore) {
	reg := registry.New()
	dir := directory.New(memory.NewGroupStore())
	store := memory.NewMessageStore()
	return New(reg, dir, store), reg, dir, store
}

func connect(reg *registry.Registry, userID string) *registrytest.Conn {
	c := registrytest.NewConn()
	reg.Register(userID, c)
	return c
}

func TestNotifyTyping_Direct(t *testing.T) {
	b, reg, _, _ := setup()
	from := connect(reg, "1")
	to := connect(reg, "2")

	b.NotifyTyping(context.Background(), "1", model.DirectConversation("1", "2"), true)

	evs := to.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, model.ChannelTyping, evs[0].Channel)
	assert.Equal(t, model.EventTyping, evs[0].Type)
	assert.Equal(t, model.TypingEvent{From: "1", To: "2", Typing: true}, evs[0].Payload)
	assert.Empty(t, from.Events())
}

func TestNotifyTyping_GroupSkipsSender(t *testing.T) {
	ctx := context.Background()
	b, reg, dir, _ := setup()
	g, err := dir.CreateGroup(ctx, "team", "1", []string{"2", "3"}, "")
	require.NoError(t, err)
	one, two, three := connect(reg, "1"), connect(reg, "2"), connect(reg, "3")

	b.NotifyTyping(ctx, "2", model.GroupConversation(g.ID), false)

	assert.Empty(t, two.Events())
	for _, c := range []*registrytest.Conn{one, three} {
		evs := c.Events()
		require.Len(t, evs, 1)
		ev := evs[0].Payload.(model.TypingEvent)
		assert.Equal(t, g.ID, ev.GroupID)
		assert.False(t, ev.Typing)
	}
}

func TestNotifyPresence_PeersAndCoMembersOnce(t *testing.T) {
	ctx := context.Background()
	b, reg, dir, store := setup()
	_, err := dir.CreateGroup(ctx, "team", "1", []string{"2", "3"}, "")
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, &model.Message{SenderID: "2", ReceiverID: "1", Content: "x", Type: model.MessageTypeText}))
	require.NoError(t, store.Append(ctx, &model.Message{SenderID: "4", ReceiverID: "1", Content: "y", Type: model.MessageTypeText}))

	one := connect(reg, "1")
	two := connect(reg, "2")
	four := connect(reg, "4")
	stranger := connect(reg, "5")

	b.NotifyPresence(ctx, "1", true)

	for _, c := range []*registrytest.Conn{two, four} {
		evs := c.OfType(model.EventPresence)
		require.Len(t, evs, 1, "one event even when peer and co-member")
		assert.Equal(t, model.PresenceEvent{UserID: "1", Online: true}, evs[0].Payload)
	}
	assert.Empty(t, one.Events())
	assert.Empty(t, stranger.Events())
	assert.True(t, b.Online("1"))
	assert.False(t, b.Online("3"))
}
