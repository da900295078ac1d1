// Package push wakes offline recipients with Web Push notifications.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"unicode/utf8"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

const previewLen = 120

// Notification is the JSON the service worker receives.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Sender implements router.Notifier over stored browser subscriptions.
// Without VAPID keys it only keeps subscriptions and sends nothing.
type Sender struct {
	subs  storage.SubscriptionStore
	vapid *webpush.Options
}

func NewSender(subs storage.SubscriptionStore, cfg config.PushConfig) *Sender {
	s := &Sender{subs: subs}
	if cfg.Enabled() {
		subject := cfg.Subject
		if subject == "" {
			subject = "chatrelay"
		}
		s.vapid = &webpush.Options{
			Subscriber:      subject,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             30,
		}
	}
	return s
}

func (s *Sender) Enabled() bool { return s.vapid != nil }

// PublicKey is handed to browsers for PushManager.subscribe.
func (s *Sender) PublicKey() string {
	if s.vapid == nil {
		return ""
	}
	return s.vapid.VAPIDPublicKey
}

func (s *Sender) Subscribe(ctx context.Context, userID string, sub model.PushSubscription) error {
	if !sub.Valid() {
		return model.ErrInvalidMessage
	}
	return s.subs.SaveSubscription(ctx, userID, sub)
}

func (s *Sender) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return s.subs.RemoveSubscription(ctx, userID, endpoint)
}

// NotifyMessage pushes a short preview of m to every subscription of userID.
// Subscriptions the push service reports as gone (404/410) are removed.
func (s *Sender) NotifyMessage(ctx context.Context, userID string, m *model.Message) {
	if s.vapid == nil {
		metrics.WebPushTotal.WithLabelValues("skipped").Inc()
		return
	}
	subs, err := s.subs.Subscriptions(ctx, userID)
	if err != nil {
		logger.Errorf("push: subscriptions user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		metrics.WebPushTotal.WithLabelValues("skipped").Inc()
		return
	}
	payload, err := json.Marshal(notificationFor(m))
	if err != nil {
		logger.Errorf("push: marshal: %v", err)
		return
	}
	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, s.vapid)
		if err != nil {
			metrics.WebPushTotal.WithLabelValues("failed").Inc()
			logger.Errorf("push: send %s: %v", sub.Endpoint[:min(50, len(sub.Endpoint))], err)
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			metrics.WebPushTotal.WithLabelValues("failed").Inc()
			if err := s.subs.RemoveSubscription(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push: remove expired subscription user=%s: %v", userID, err)
			}
		case resp.StatusCode >= 400:
			metrics.WebPushTotal.WithLabelValues("failed").Inc()
			logger.Errorf("push: send user=%s: status %d", userID, resp.StatusCode)
		default:
			metrics.WebPushTotal.WithLabelValues("sent").Inc()
		}
	}
}

func notificationFor(m *model.Message) Notification {
	body := m.Content
	if m.Type != model.MessageTypeText || body == "" {
		body = "Вложение"
	}
	if utf8.RuneCountInString(body) > previewLen {
		r := []rune(body)
		body = string(r[:previewLen-3]) + "..."
	}
	data := map[string]string{
		"conversationId": m.Conversation().Key(),
		"senderId":       m.SenderID,
		"messageId":      strconv.FormatInt(m.ID, 10),
	}
	if m.GroupID != "" {
		data["groupId"] = m.GroupID
	}
	return Notification{Title: "Новое сообщение", Body: body, Data: data}
}
