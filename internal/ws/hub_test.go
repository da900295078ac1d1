package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/internal/directory"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/registry"
	"github.com/chatrelay/internal/router"
	"github.com/chatrelay/internal/service"
	"github.com/chatrelay/internal/storage/memory"
)

type frame struct {
	Topic   string          `json:"topic"`
	Type    model.EventType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type env struct {
	hub    *Hub
	reg    *registry.Registry
	svc    *service.ChatService
	srv    *httptest.Server
	cancel context.CancelFunc
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg := registry.New()
	dir := directory.New(memory.NewGroupStore())
	store := memory.NewMessageStore()
	rt := router.New(reg, dir, store)
	pr := presence.New(reg, dir, store)
	svc := service.NewChatService(dir, store, rt, pr, nil, service.Options{})
	hub := NewHub(reg, svc, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c := NewClient(hub, conn, r.URL.Query().Get("userId"))
		c.Start(cctx, ccancel)
		_ = hub.Register(c)
	}))
	e := &env{hub: hub, reg: reg, svc: svc, srv: srv, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return e
}

func (e *env) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return e.reg.Online(userID) }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, dest string, body any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(IncomingMessage{Destination: dest, Body: raw}))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func readTypes(t *testing.T, conn *websocket.Conn, n int) map[model.EventType]frame {
	t.Helper()
	out := make(map[model.EventType]frame, n)
	for i := 0; i < n; i++ {
		f := read(t, conn)
		out[f.Type] = f
	}
	return out
}

func TestSendDeliversAndAcks(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "1")
	bob := e.dial(t, "2")

	send(t, alice, DestSend, model.SendCommand{ReceiverID: "2", Content: "hi", Type: "TEXT"})

	got := read(t, bob)
	assert.Equal(t, "/topic/chat/2", got.Topic)
	assert.Equal(t, model.EventMessage, got.Type)
	var m model.Message
	require.NoError(t, json.Unmarshal(got.Payload, &m))
	assert.Equal(t, "1", m.SenderID)
	assert.Equal(t, "hi", m.Content)

	frames := readTypes(t, alice, 2)
	require.Contains(t, frames, model.EventStatus)
	require.Contains(t, frames, model.EventSent)
	var sent model.Message
	require.NoError(t, json.Unmarshal(frames[model.EventSent].Payload, &sent))
	assert.Equal(t, m.ID, sent.ID)
	assert.Equal(t, model.StatusDelivered, sent.Status)
}

func TestSendErrorsGoToSender(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "1")

	send(t, alice, DestSend, model.SendCommand{SenderID: "9", ReceiverID: "2", Content: "spoof"})
	f := read(t, alice)
	assert.Equal(t, model.EventError, f.Type)
	var p model.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, "forbidden", p.Code)

	send(t, alice, DestSend, model.SendCommand{ReceiverID: "2", GroupID: "g", Content: "x"})
	f = read(t, alice)
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, "invalid_conversation_target", p.Code)

	send(t, alice, "/app/nope", struct{}{})
	f = read(t, alice)
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, "unknown_destination", p.Code)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f = read(t, alice)
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, "invalid_message", p.Code)
}

func TestSendsFromOneConnectionKeepOrder(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "1")
	bob := e.dial(t, "2")
	const n = 30

	for i := 0; i < n; i++ {
		send(t, alice, DestSend, model.SendCommand{ReceiverID: "2", Content: strconv.Itoa(i)})
	}

	var pushed []int64
	for i := 0; i < n; i++ {
		f := read(t, bob)
		require.Equal(t, model.EventMessage, f.Type)
		var m model.Message
		require.NoError(t, json.Unmarshal(f.Payload, &m))
		assert.Equal(t, strconv.Itoa(i), m.Content)
		pushed = append(pushed, m.ID)
	}

	hist, err := e.svc.History(context.Background(), "1", "2", "", model.HistoryQuery{Limit: n})
	require.NoError(t, err)
	require.Len(t, hist, n)
	for i, m := range hist {
		assert.Equal(t, strconv.Itoa(i), m.Content)
		assert.Equal(t, pushed[i], m.ID)
		if i > 0 {
			assert.Greater(t, m.ID, hist[i-1].ID)
		}
	}
}

func TestMessageSurvivesSenderDisconnect(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "1")

	send(t, alice, DestSend, model.SendCommand{ReceiverID: "2", Content: "before I go"})
	f := read(t, alice)
	require.Equal(t, model.EventSent, f.Type)
	var sent model.Message
	require.NoError(t, json.Unmarshal(f.Payload, &sent))

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return !e.reg.Online("1") }, 2*time.Second, 10*time.Millisecond)

	hist, err := e.svc.History(context.Background(), "2", "1", "", model.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, sent.ID, hist[0].ID)
	assert.Equal(t, "before I go", hist[0].Content)
	assert.Equal(t, model.StatusSent, hist[0].Status)
}

func TestTypingGoesToTypingTopic(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "1")
	bob := e.dial(t, "2")

	send(t, alice, DestTyping, model.TypingCommand{From: "someone-else", To: "2", Typing: true})
	f := read(t, bob)
	assert.Equal(t, "/topic/typing/2", f.Topic)
	var ev model.TypingEvent
	require.NoError(t, json.Unmarshal(f.Payload, &ev))
	assert.Equal(t, model.TypingEvent{From: "1", To: "2", Typing: true}, ev)
}

func TestSeenAndAck(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "1")

	m, err := e.svc.Send(context.Background(), model.SendCommand{SenderID: "2", ReceiverID: "1", Content: "yo"})
	require.NoError(t, err)
	// The message is pushed live to alice and marked delivered.
	assert.Equal(t, model.EventMessage, read(t, alice).Type)

	send(t, alice, DestAck, model.AckCommand{MessageID: m.ID})
	send(t, alice, DestSeen, model.SeenCommand{ReceiverID: "2"})

	require.Eventually(t, func() bool {
		hist, err := e.svc.History(context.Background(), "2", "1", "", model.HistoryQuery{})
		return err == nil && len(hist) == 1 && hist[0].Status == model.StatusSeen
	}, 2*time.Second, 10*time.Millisecond)

	send(t, alice, DestAck, model.AckCommand{})
	f := read(t, alice)
	var p model.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, "unknown_message", p.Code)
}

func TestDisconnectUnregisters(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "1")
	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return !e.reg.Online("1") }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownClosesAndRejects(t *testing.T) {
	e := newEnv(t)
	alice := e.dial(t, "1")
	c := e.reg.Lookup("1")[0].(*Client)

	e.cancel()
	require.Eventually(t, func() bool { return !e.hub.Available() && e.reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := alice.ReadMessage()
	assert.Error(t, err)

	assert.ErrorIs(t, c.Push(model.ChatEvent(model.EventPresence, nil)), model.ErrStaleSession)
}
