package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage/memory"
)

func TestResolve(t *testing.T) {
	d := New(memory.NewGroupStore())

	tests := []struct {
		name     string
		sender   string
		receiver string
		group    string
		want     model.ConversationRef
		wantErr  error
	}{
		{name: "direct", sender: "2", receiver: "1", want: model.DirectConversation("1", "2")},
		{name: "group", sender: "1", group: "g", want: model.GroupConversation("g")},
		{name: "both", sender: "1", receiver: "2", group: "g", wantErr: model.ErrInvalidConversationTarget},
		{name: "neither", sender: "1", wantErr: model.ErrInvalidConversationTarget},
		{name: "blank", sender: "1", receiver: "  ", group: " ", wantErr: model.ErrInvalidConversationTarget},
		{name: "self", sender: "1", receiver: "1", wantErr: model.ErrInvalidConversationTarget},
		{name: "no sender", receiver: "1", wantErr: model.ErrInvalidConversationTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Resolve(tt.sender, tt.receiver, tt.group)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Key(), got.Key())
		})
	}
}

func TestDirectRefIsUnordered(t *testing.T) {
	d := New(memory.NewGroupStore())
	ab, err := d.Resolve("a", "b", "")
	require.NoError(t, err)
	ba, err := d.Resolve("b", "a", "")
	require.NoError(t, err)
	assert.Equal(t, ab.Key(), ba.Key())
	assert.Equal(t, "direct:a:b", ab.Key())
}

func TestCreateGroup(t *testing.T) {
	ctx := context.Background()
	d := New(memory.NewGroupStore())

	_, err := d.CreateGroup(ctx, "  ", "1", []string{"2"}, "")
	assert.ErrorIs(t, err, model.ErrInvalidGroupSpec)
	_, err = d.CreateGroup(ctx, "team", "1", nil, "")
	assert.ErrorIs(t, err, model.ErrInvalidGroupSpec)

	g, err := d.CreateGroup(ctx, " team ", "1", []string{"2", "3", "2", "1", ""}, "icon.png")
	require.NoError(t, err)
	assert.Equal(t, "team", g.Name)
	assert.Equal(t, []string{"1", "2", "3"}, g.MemberIDs)
	assert.Equal(t, []string{"1"}, g.AdminIDs)
	assert.NotEmpty(t, g.ID)

	members, err := d.MembersOf(ctx, model.GroupConversation(g.ID))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, members)

	groups, err := d.GroupsOf(ctx, "3")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, g.ID, groups[0].ID)
}

func TestMembership(t *testing.T) {
	ctx := context.Background()
	d := New(memory.NewGroupStore())
	g, err := d.CreateGroup(ctx, "team", "1", []string{"2"}, "")
	require.NoError(t, err)
	ref := model.GroupConversation(g.ID)

	_, err = d.AddMembers(ctx, g.ID, "2", []string{"4"})
	assert.ErrorIs(t, err, model.ErrNotGroupAdmin)

	added, err := d.AddMembers(ctx, g.ID, "1", []string{"4", "2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, added)

	_, err = d.JoinGroup(ctx, g.ID, "5", "5")
	assert.ErrorIs(t, err, model.ErrNotGroupAdmin, "no self-join")
	_, err = d.JoinGroup(ctx, g.ID, "2", "5")
	assert.ErrorIs(t, err, model.ErrNotGroupAdmin)
	ok, err := d.IsMember(ctx, ref, "5")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = d.JoinGroup(ctx, "missing", "1", "5")
	assert.ErrorIs(t, err, model.ErrGroupNotFound)

	joined, err := d.JoinGroup(ctx, g.ID, "1", "5")
	require.NoError(t, err)
	assert.True(t, joined.IsMember("5"))
	ok, err = d.IsMember(ctx, ref, "5")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, d.LeaveGroup(ctx, g.ID, "9"), model.ErrNotMember)
	assert.ErrorIs(t, d.LeaveGroup(ctx, "missing", "1"), model.ErrGroupNotFound)

	for _, id := range []string{"1", "2", "4", "5"} {
		require.NoError(t, d.LeaveGroup(ctx, g.ID, id))
	}
	inert, err := d.Group(ctx, g.ID)
	require.NoError(t, err, "empty groups are kept")
	assert.Empty(t, inert.MemberIDs)
	assert.Empty(t, inert.AdminIDs)

	ok, err = d.IsMember(ctx, model.DirectConversation("1", "2"), "2")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = d.IsMember(ctx, model.DirectConversation("1", "2"), "3")
	assert.False(t, ok)

	_, err = d.MembersOf(ctx, model.GroupConversation("missing"))
	assert.ErrorIs(t, err, model.ErrGroupNotFound)
}

func TestResolveTypingTarget(t *testing.T) {
	ctx := context.Background()
	d := New(memory.NewGroupStore())
	g, err := d.CreateGroup(ctx, "team", "1", []string{"2"}, "")
	require.NoError(t, err)

	ref, err := d.ResolveTypingTarget(ctx, "1", g.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.GroupConversation(g.ID), ref)

	ref, err = d.ResolveTypingTarget(ctx, "1", "2", g.ID)
	require.NoError(t, err)
	assert.True(t, ref.IsGroup())

	ref, err = d.ResolveTypingTarget(ctx, "1", "2", "")
	require.NoError(t, err)
	assert.Equal(t, model.DirectConversation("1", "2"), ref)

	_, err = d.ResolveTypingTarget(ctx, "1", "", "")
	assert.ErrorIs(t, err, model.ErrInvalidConversationTarget)
}
