package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKey(t *testing.T) {
	assert.Equal(t, "direct:1:2", DirectConversation("2", "1").Key())
	assert.Equal(t, "group:g1", GroupConversation("g1").Key())

	assert.NotEqual(t,
		DirectConversation("a:b", "c").Key(),
		DirectConversation("a", "b:c").Key())
	assert.NotEqual(t,
		DirectConversation("a%3A", "b").Key(),
		DirectConversation("a:", "b").Key())
}

func TestParseConversationKeyRoundTrip(t *testing.T) {
	refs := []ConversationRef{
		DirectConversation("1", "2"),
		DirectConversation("a:b", "c"),
		DirectConversation("a", "b:c"),
		DirectConversation("x%3Ay", "z%"),
		GroupConversation("g:1"),
	}
	for _, ref := range refs {
		got, ok := ParseConversationKey(ref.Key())
		require.True(t, ok, ref.Key())
		assert.Equal(t, ref, got)
	}

	for _, bad := range []string{"", "direct:", "direct:a", "direct:a:b:c", "group:", "chat:1"} {
		_, ok := ParseConversationKey(bad)
		assert.False(t, ok, bad)
	}
}
