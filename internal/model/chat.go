package model

import (
	"strings"
	"time"
)

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// ConversationRef identifies a direct pair or a group. For a direct pair
// UserA < UserB, so the pair is unordered.
type ConversationRef struct {
	Kind    ConversationKind
	UserA   string
	UserB   string
	GroupID string
}

func DirectConversation(a, b string) ConversationRef {
	if b < a {
		a, b = b, a
	}
	return ConversationRef{Kind: ConversationDirect, UserA: a, UserB: b}
}

func GroupConversation(groupID string) ConversationRef {
	return ConversationRef{Kind: ConversationGroup, GroupID: groupID}
}

func (c ConversationRef) IsGroup() bool { return c.Kind == ConversationGroup }

// User IDs are opaque and may contain ':', so each part of a key is escaped.
var (
	keyEscaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	keyUnescaper = strings.NewReplacer("%3A", ":", "%25", "%")
)

// Key is the canonical string form, also used as the storage key. Distinct
// pairs always get distinct keys.
func (c ConversationRef) Key() string {
	if c.IsGroup() {
		return "group:" + keyEscaper.Replace(c.GroupID)
	}
	return "direct:" + keyEscaper.Replace(c.UserA) + ":" + keyEscaper.Replace(c.UserB)
}

// Peer returns the other side of a direct pair, "" for groups.
func (c ConversationRef) Peer(userID string) string {
	if c.IsGroup() {
		return ""
	}
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// ParseConversationKey is the inverse of Key.
func ParseConversationKey(key string) (ConversationRef, bool) {
	if id, ok := strings.CutPrefix(key, "group:"); ok && id != "" && !strings.Contains(id, ":") {
		return GroupConversation(keyUnescaper.Replace(id)), true
	}
	rest, ok := strings.CutPrefix(key, "direct:")
	if !ok {
		return ConversationRef{}, false
	}
	a, b, ok := strings.Cut(rest, ":")
	if !ok || a == "" || b == "" || strings.Contains(b, ":") {
		return ConversationRef{}, false
	}
	return DirectConversation(keyUnescaper.Replace(a), keyUnescaper.Replace(b)), true
}

type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Icon      string    `json:"groupIcon,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	MemberIDs []string  `json:"memberIds"`
	AdminIDs  []string  `json:"adminIds"`
}

func (g *Group) IsMember(userID string) bool {
	for _, id := range g.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (g *Group) IsAdmin(userID string) bool {
	for _, id := range g.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// GroupMember is one row of GET /api/groups/{id}/members.
type GroupMember struct {
	UserID   string `json:"id"`
	IsAdmin  bool   `json:"isAdmin"`
	IsOnline bool   `json:"isOnline"`
}

// CreateGroupRequest mirrors the client payload of POST /api/groups/create.
type CreateGroupRequest struct {
	Name      string   `json:"name"`
	AdminID   string   `json:"adminId"`
	MemberIDs []string `json:"memberIds"`
	GroupIcon string   `json:"groupIcon"`
}

// ChatSummary is one row of the chats list.
type ChatSummary struct {
	ChatID      string    `json:"chatId"`
	UserID      string    `json:"userId,omitempty"`
	GroupID     string    `json:"groupId,omitempty"`
	Name        string    `json:"name,omitempty"`
	IsGroup     bool      `json:"isGroup"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
	UnreadCount int       `json:"unreadCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
