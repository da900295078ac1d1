// Package presence broadcasts typing indicators and online/offline changes.
// Nothing here is persisted or retried; online state is read from the registry.
package presence

import (
	"context"
	"sort"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
)

type Sessions interface {
	Deliver(userID string, ev model.Event) (delivered int, offline bool)
	Online(userID string) bool
}

// Directory is the part of the conversation directory presence needs.
type Directory interface {
	MembersOf(ctx context.Context, ref model.ConversationRef) ([]string, error)
	GroupsOf(ctx context.Context, userID string) ([]model.Group, error)
}

// Peers lists users the given user has a direct conversation with.
type Peers interface {
	Peers(ctx context.Context, userID string) ([]string, error)
}

type Broadcaster struct {
	sessions Sessions
	dir      Directory
	peers    Peers
}

func New(sessions Sessions, dir Directory, peers Peers) *Broadcaster {
	return &Broadcaster{sessions: sessions, dir: dir, peers: peers}
}

func (b *Broadcaster) Online(userID string) bool {
	return b.sessions.Online(userID)
}

// NotifyTyping pushes a typing event to every participant of ref except from.
// The typing channel is lossy: a slow session simply misses the event.
func (b *Broadcaster) NotifyTyping(ctx context.Context, from string, ref model.ConversationRef, typing bool) {
	members, err := b.dir.MembersOf(ctx, ref)
	if err != nil {
		logger.Debugf("presence: typing members of %s: %v", ref.Key(), err)
		return
	}
	for _, uid := range members {
		if uid == from {
			continue
		}
		ev := model.TypingEvent{From: from, Typing: typing}
		if ref.IsGroup() {
			ev.To = ref.GroupID
			ev.GroupID = ref.GroupID
		} else {
			ev.To = uid
		}
		b.deliver(ctx, uid, model.Event{Channel: model.ChannelTyping, Type: model.EventTyping, Payload: ev})
	}
}

// NotifyPresence tells the user's direct peers and group co-members that the
// user came online or went offline. Each audience member gets one event.
func (b *Broadcaster) NotifyPresence(ctx context.Context, userID string, online bool) {
	audience, err := b.audience(ctx, userID)
	if err != nil {
		logger.Errorf("presence: audience of %s: %v", userID, err)
	}
	ev := model.ChatEvent(model.EventPresence, model.PresenceEvent{UserID: userID, Online: online})
	for _, uid := range audience {
		b.deliver(ctx, uid, ev)
	}
}

// audience collects what it can; a failing source does not hide the others.
func (b *Broadcaster) audience(ctx context.Context, userID string) ([]string, error) {
	set := make(map[string]struct{})
	var firstErr error

	peers, err := b.peers.Peers(ctx, userID)
	if err != nil {
		firstErr = err
	}
	for _, p := range peers {
		set[p] = struct{}{}
	}

	groups, err := b.dir.GroupsOf(ctx, userID)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	for _, g := range groups {
		for _, m := range g.MemberIDs {
			set[m] = struct{}{}
		}
	}

	delete(set, userID)
	out := make([]string, 0, len(set))
	for uid := range set {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out, firstErr
}

func (b *Broadcaster) deliver(ctx context.Context, userID string, ev model.Event) {
	if _, offline := b.sessions.Deliver(userID, ev); offline {
		// A stale handle was the user's last session.
		b.NotifyPresence(ctx, userID, false)
	}
}
