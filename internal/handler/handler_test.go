package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/directory"
	"github.com/chatrelay/internal/media"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/push"
	"github.com/chatrelay/internal/registry"
	"github.com/chatrelay/internal/router"
	"github.com/chatrelay/internal/service"
	"github.com/chatrelay/internal/storage/memory"
	"github.com/chatrelay/internal/ws"
)

type testAPI struct {
	h        http.Handler
	verifier *auth.Verifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := &config.Config{
		Auth:               config.AuthConfig{JWTSecret: "test-secret", Issuer: "chatrelay", TokenTTL: time.Hour, DevMode: true},
		MaxUploadSize:      1 << 20,
		CORSAllowedOrigins: "*",
		MetricsSecret:      "m",
	}
	reg := registry.New()
	dir := directory.New(memory.NewGroupStore())
	store := memory.NewMessageStore()
	kv := memory.New()
	sender := push.NewSender(kv, cfg.Push)
	rt := router.New(reg, dir, store).WithNotifier(sender)
	pr := presence.New(reg, dir, store)
	svc := service.NewChatService(dir, store, rt, pr, kv, service.Options{})
	verifier := auth.New(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	h := NewRouter(Deps{
		Config:   cfg,
		Chat:     svc,
		Hub:      ws.NewHub(reg, svc, ws.Options{}),
		Verifier: verifier,
		Limiter:  kv,
		Media:    media.New(t.TempDir()),
		Push:     sender,
	})
	return &testAPI{h: h, verifier: verifier}
}

func (a *testAPI) do(t *testing.T, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		tok, _, err := a.verifier.Issue(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestDevAuthVerify(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, "", http.MethodPost, "/auth/verify", map[string]string{"userId": "42"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[verifyResponse](t, rec)
	sub, err := a.verifier.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "42", sub)

	rec = a.do(t, "", http.MethodPost, "/auth/verify", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnauthenticated(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, "", http.MethodGet, "/api/chat/chats/1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatFlow(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, "1", http.MethodPost, "/api/chat/send", model.SendCommand{ReceiverID: "2", Content: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sent := decode[model.Message](t, rec)
	assert.Equal(t, "1", sent.SenderID)
	assert.Equal(t, model.StatusSent, sent.Status)

	rec = a.do(t, "1", http.MethodPost, "/api/chat/send", model.SendCommand{SenderID: "3", ReceiverID: "2", Content: "spoof"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, "1", http.MethodPost, "/api/chat/send", model.SendCommand{ReceiverID: "2", Content: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_message", decode[errorResponse](t, rec).Code)

	rec = a.do(t, "2", http.MethodGet, "/api/chat/history/2/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[[]model.Message](t, rec)
	require.Len(t, hist, 1)
	assert.Equal(t, sent.ID, hist[0].ID)

	rec = a.do(t, "2", http.MethodGet, "/api/chat/history/1/2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "path user must be the caller")

	rec = a.do(t, "2", http.MethodGet, "/api/chat/chats/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	chats := decode[[]model.ChatSummary](t, rec)
	require.Len(t, chats, 1)
	assert.Equal(t, 1, chats[0].UnreadCount)

	rec = a.do(t, "2", http.MethodPost, "/api/chat/messages/"+strconv.FormatInt(sent.ID, 10)+"/ack", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusDelivered, decode[model.Message](t, rec).Status)

	rec = a.do(t, "2", http.MethodPut, "/api/chat/seen/2/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	seen := decode[seenResponse](t, rec)
	assert.Equal(t, []int64{sent.ID}, seen.MessageIDs)

	rec = a.do(t, "1", http.MethodGet, "/api/chat/history/1/2", nil)
	assert.Equal(t, model.StatusSeen, decode[[]model.Message](t, rec)[0].Status)

	rec = a.do(t, "2", http.MethodPost, "/api/chat/messages/999/ack", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, "1", http.MethodGet, "/api/presence/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, presenceResponse{UserID: "2", Online: false}, decode[presenceResponse](t, rec))
}

func TestGroupFlow(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, "1", http.MethodPost, "/api/groups/create", model.CreateGroupRequest{Name: "team", MemberIDs: []string{"2"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	g := decode[model.Group](t, rec)
	assert.Equal(t, "1", g.CreatedBy)

	rec = a.do(t, "1", http.MethodPost, "/api/groups/create", model.CreateGroupRequest{Name: "x", AdminID: "2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, "2", http.MethodGet, "/api/groups/"+g.ID+"/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.GroupMember](t, rec), 2)

	rec = a.do(t, "3", http.MethodGet, "/api/groups/"+g.ID+"/members", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, "2", http.MethodPost, "/api/groups/"+g.ID+"/members", addMembersRequest{MemberIDs: []string{"3"}})
	assert.Equal(t, http.StatusForbidden, rec.Code, "only admins add members")

	rec = a.do(t, "1", http.MethodPost, "/api/groups/"+g.ID+"/members", addMembersRequest{MemberIDs: []string{"3", "2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"3"}, decode[addMembersResponse](t, rec).Added)

	rec = a.do(t, "3", http.MethodPost, "/api/chat/send", model.SendCommand{GroupID: g.ID, Content: "hi team"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, "3", http.MethodPost, "/api/groups/"+g.ID+"/leave", leaveRequest{UserID: "1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(t, "3", http.MethodPost, "/api/groups/"+g.ID+"/leave", leaveRequest{UserID: "3"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, "3", http.MethodGet, "/api/chat/history/3?groupId="+g.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, "4", http.MethodPost, "/api/groups/"+g.ID+"/join", joinRequest{UserID: "4"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "joining needs an admin")
	rec = a.do(t, "4", http.MethodGet, "/api/chat/history/4?groupId="+g.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = a.do(t, "4", http.MethodGet, "/api/groups/"+g.ID+"/members", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, "1", http.MethodPost, "/api/groups/"+g.ID+"/join", joinRequest{UserID: "4"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, "4", http.MethodGet, "/api/chat/history/4?groupId="+g.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Message](t, rec), 1)

	rec = a.do(t, "1", http.MethodGet, "/api/groups/nope/members", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMediaUploadAndServe(t *testing.T) {
	a := newTestAPI(t)
	png := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, []byte("pixels")...)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "cat.png")
	require.NoError(t, err)
	_, err = fw.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	tok, _, err := a.verifier.Issue("1")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/media/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	up := decode[media.Upload](t, rec)
	assert.Equal(t, model.MessageTypeImage, up.Type)

	rec = a.do(t, "2", http.MethodGet, up.URL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, png, rec.Body.Bytes())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = a.do(t, "1", http.MethodPost, "/api/chat/send", model.SendCommand{ReceiverID: "2", Type: "IMAGE", MediaURL: up.URL})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestPushSubscribe(t *testing.T) {
	a := newTestAPI(t)
	var sub model.PushSubscription
	sub.Endpoint = "https://push.example/abc"
	sub.Keys.P256dh = "key"
	sub.Keys.Auth = "auth"

	rec := a.do(t, "1", http.MethodPost, "/api/push/subscribe", SubscribeRequest{Subscription: sub})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(t, "1", http.MethodPost, "/api/push/subscribe", SubscribeRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = a.do(t, "1", http.MethodDelete, "/api/push/subscribe", UnsubscribeRequest{Endpoint: sub.Endpoint})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, "", http.MethodGet, "/api/config/push", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":false}`, rec.Body.String())
}

func TestWSRejectsForeignUserID(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, "1", http.MethodGet, "/ws?userId=2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, "", http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Internal-Secret", "m")
	rec = httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "chatrelay_"))
}
