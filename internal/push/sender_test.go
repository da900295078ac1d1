package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage/memory"
)

func browserSubscription(t *testing.T, endpoint string) model.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	var sub model.PushSubscription
	sub.Endpoint = endpoint
	sub.Keys.P256dh = base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())
	sub.Keys.Auth = base64.RawURLEncoding.EncodeToString(secret)
	return sub
}

func TestNotifyMessage_SendsAndDropsGone(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if strings.HasSuffix(r.URL.Path, "/gone") {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cfg, err := ResolveKeys(config.PushConfig{}, filepath.Join(t.TempDir(), "vapid.json"))
	require.NoError(t, err)
	store := memory.New()
	s := NewSender(store, cfg)
	require.True(t, s.Enabled())

	ctx := context.Background()
	require.NoError(t, s.Subscribe(ctx, "2", browserSubscription(t, srv.URL+"/live")))
	require.NoError(t, s.Subscribe(ctx, "2", browserSubscription(t, srv.URL+"/gone")))

	s.NotifyMessage(ctx, "2", &model.Message{ID: 1, SenderID: "1", ReceiverID: "2", Content: "hi", Type: model.MessageTypeText})
	assert.EqualValues(t, 2, hits.Load())

	subs, err := store.Subscriptions(ctx, "2")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, srv.URL+"/live", subs[0].Endpoint)
}

func TestNotifyMessage_DisabledSendsNothing(t *testing.T) {
	store := memory.New()
	s := NewSender(store, config.PushConfig{})
	assert.False(t, s.Enabled())
	assert.Empty(t, s.PublicKey())
	s.NotifyMessage(context.Background(), "2", &model.Message{ID: 1, SenderID: "1", ReceiverID: "2", Content: "hi"})
}

func TestSubscribe_RejectsIncomplete(t *testing.T) {
	s := NewSender(memory.New(), config.PushConfig{})
	err := s.Subscribe(context.Background(), "2", model.PushSubscription{Endpoint: "https://push.example"})
	assert.ErrorIs(t, err, model.ErrInvalidMessage)
}

func TestResolveKeys_PersistsGeneratedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "vapid.json")
	first, err := ResolveKeys(config.PushConfig{Subject: "mailto:ops@example.com"}, path)
	require.NoError(t, err)
	require.True(t, first.Enabled())
	assert.Equal(t, "mailto:ops@example.com", first.Subject)

	second, err := ResolveKeys(config.PushConfig{}, path)
	require.NoError(t, err)
	assert.Equal(t, first.VAPIDPublicKey, second.VAPIDPublicKey)
	assert.Equal(t, first.VAPIDPrivateKey, second.VAPIDPrivateKey)

	given := config.PushConfig{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}
	got, err := ResolveKeys(given, path)
	require.NoError(t, err)
	assert.Equal(t, given, got)
}

func TestNotificationPreview(t *testing.T) {
	n := notificationFor(&model.Message{ID: 5, SenderID: "1", GroupID: "g", Type: model.MessageTypeText, Content: strings.Repeat("я", 200)})
	assert.Equal(t, previewLen, len([]rune(n.Body)))
	assert.Equal(t, "g", n.Data["groupId"])
	assert.Equal(t, "5", n.Data["messageId"])

	n = notificationFor(&model.Message{SenderID: "1", ReceiverID: "2", Type: model.MessageTypeImage, MediaURL: "/api/media/x.png"})
	assert.Equal(t, "Вложение", n.Body)
}
