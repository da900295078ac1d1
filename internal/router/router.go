// Package router pushes persisted messages and status changes to live sessions.
// Routing never fails a send: every error here is logged and swallowed.
package router

import (
	"context"
	"sort"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

// Sessions delivers an event to every live session of a user.
type Sessions interface {
	Deliver(userID string, ev model.Event) (delivered int, offline bool)
}

type Members interface {
	MembersOf(ctx context.Context, ref model.ConversationRef) ([]string, error)
}

// Notifier wakes up a recipient that has no live session. Best effort.
type Notifier interface {
	NotifyMessage(ctx context.Context, userID string, m *model.Message)
}

const notifyTimeout = 10 * time.Second

type Router struct {
	sessions Sessions
	members  Members
	store    storage.MessageStore
	notifier Notifier
	// offline is called when dropping a stale handle leaves a user with no sessions.
	offline func(userID string)
}

func New(sessions Sessions, members Members, store storage.MessageStore) *Router {
	return &Router{sessions: sessions, members: members, store: store}
}

// WithNotifier enables wake-up pushes for offline recipients.
func (r *Router) WithNotifier(n Notifier) *Router {
	r.notifier = n
	return r
}

// OnOffline registers the hook run when a stale handle was a user's last session.
func (r *Router) OnOffline(fn func(userID string)) {
	r.offline = fn
}

func (r *Router) deliver(userID string, ev model.Event) int {
	n, offline := r.sessions.Deliver(userID, ev)
	if offline && r.offline != nil {
		r.offline(userID)
	}
	return n
}

// Route pushes m to the live sessions of every participant except the sender.
// If at least one push lands, m becomes DELIVERED and the sender's sessions
// get a status event. It returns the message status after routing.
func (r *Router) Route(ctx context.Context, m *model.Message) model.Status {
	defer logger.DeferLogDuration("router.Route", time.Now())()
	start := time.Now()
	ref := m.Conversation()

	members, err := r.members.MembersOf(ctx, ref)
	if err != nil {
		logger.Errorf("router: members of %s msg=%d: %v", ref.Key(), m.ID, err)
		return m.Status
	}

	// Sessions encode the payload asynchronously; they get their own copy.
	payload := *m
	ev := model.ChatEvent(model.EventMessage, &payload)

	delivered := 0
	var offline []string
	for _, uid := range members {
		if uid == m.SenderID {
			continue
		}
		n := r.deliver(uid, ev)
		if n == 0 {
			offline = append(offline, uid)
		}
		delivered += n
	}
	metrics.RouteLatency.Observe(time.Since(start).Seconds())

	status := m.Status
	if delivered > 0 {
		updated, changed, err := r.store.AdvanceStatus(ctx, m.ID, model.StatusDelivered)
		if err != nil {
			logger.Errorf("router: advance msg=%d to delivered: %v", m.ID, err)
		} else {
			status = updated.Status
			if changed {
				metrics.StatusTransitions.WithLabelValues(model.StatusDelivered.String()).Inc()
				r.deliver(m.SenderID, model.ChatEvent(model.EventStatus, statusUpdate(ref, m.SenderID, []int64{m.ID}, status, "")))
			}
		}
	}

	if len(offline) > 0 && r.notifier != nil {
		r.wake(offline, &payload)
	}
	return status
}

func (r *Router) wake(userIDs []string, m *model.Message) {
	for _, uid := range userIDs {
		go func(uid string) {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			r.notifier.NotifyMessage(ctx, uid, m)
		}(uid)
	}
}

// PublishStatus tells senders that their messages changed status because of
// viewerID. One event per (sender, conversation) pair.
func (r *Router) PublishStatus(ctx context.Context, viewerID string, msgs []model.Message) {
	type key struct {
		sender string
		conv   string
	}
	type batch struct {
		ref    model.ConversationRef
		ids    []int64
		status model.Status
	}
	batches := make(map[key]*batch)
	var order []key
	for _, m := range msgs {
		metrics.StatusTransitions.WithLabelValues(m.Status.String()).Inc()
		ref := m.Conversation()
		k := key{sender: m.SenderID, conv: ref.Key()}
		b, ok := batches[k]
		if !ok {
			b = &batch{ref: ref}
			batches[k] = b
			order = append(order, k)
		}
		b.ids = append(b.ids, m.ID)
		if m.Status > b.status {
			b.status = m.Status
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].sender != order[j].sender {
			return order[i].sender < order[j].sender
		}
		return order[i].conv < order[j].conv
	})
	for _, k := range order {
		b := batches[k]
		r.deliver(k.sender, model.ChatEvent(model.EventStatus, statusUpdate(b.ref, k.sender, b.ids, b.status, viewerID)))
	}
}

// statusUpdate is addressed to sender, so for a direct pair the receiver is the other side.
func statusUpdate(ref model.ConversationRef, sender string, ids []int64, status model.Status, by string) model.StatusUpdate {
	u := model.StatusUpdate{
		ConversationID: ref.Key(),
		MessageIDs:     ids,
		Status:         status,
		By:             by,
	}
	if ref.IsGroup() {
		u.GroupID = ref.GroupID
	} else {
		u.ReceiverID = ref.Peer(sender)
	}
	return u
}
