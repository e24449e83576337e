package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peercall/peercall/backend/model"
	"github.com/peercall/peercall/backend/registry"
	"github.com/peercall/peercall/backend/relay"
	"github.com/peercall/peercall/backend/service"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	svc := service.NewService(service.Config{
		Registry: registry.New(),
		Relay:    relay.New(&logger),
		Logger:   &logger,
	})
	srv := NewServer(Config{
		Logger:           &logger,
		SignalingService: svc,
		ListenAddr:       ":0",
	})

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeEvent(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()

	ev, err := model.NewEvent(eventType, payload)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	b, err := json.Marshal(&ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err = conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) model.Event {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev model.Event
	if err = json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func decodePayload[T any](t *testing.T, ev model.Event) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		t.Fatalf("decode %s payload: %v", ev.Type, err)
	}
	return v
}

func TestSignalingSessionEndToEnd(t *testing.T) {
	ts := newTestServer(t)

	alice := dialWS(t, ts)
	bob := dialWS(t, ts)

	// Alice joins an empty room and is told to wait.
	writeEvent(t, alice, model.EventJoinRoom, model.JoinRequest{Username: "alice", RoomID: "r1"})
	ev := readEvent(t, alice)
	if ev.Type != model.EventUserJoined {
		t.Fatalf("expected user-joined, got %q", ev.Type)
	}
	if joined := decodePayload[model.UserJoined](t, ev); !joined.IsFirst {
		t.Fatal("alice must be first")
	}

	// Bob joins; he is not first, and alice is told to start the call.
	writeEvent(t, bob, model.EventJoinRoom, model.JoinRequest{Username: "bob", RoomID: "r1"})
	ev = readEvent(t, bob)
	if ev.Type != model.EventUserJoined {
		t.Fatalf("expected user-joined, got %q", ev.Type)
	}
	if joined := decodePayload[model.UserJoined](t, ev); joined.IsFirst {
		t.Fatal("bob must not be first")
	}
	if ev = readEvent(t, alice); ev.Type != model.EventReadyToCall {
		t.Fatalf("expected ready-to-call for alice, got %q", ev.Type)
	}

	// Offer from alice lands at bob only, payload untouched.
	sdp := map[string]string{"sdp": "v=0 test offer"}
	writeEvent(t, alice, model.EventOffer, sdp)
	ev = readEvent(t, bob)
	if ev.Type != model.EventOffer {
		t.Fatalf("expected offer, got %q", ev.Type)
	}
	if got := decodePayload[map[string]string](t, ev); got["sdp"] != sdp["sdp"] {
		t.Fatalf("offer payload mangled: %+v", got)
	}

	// Chat reaches both sides, sender included.
	writeEvent(t, bob, model.EventSendMessage, model.SendMessage{Message: "hello"})
	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		ev = readEvent(t, conn)
		if ev.Type != model.EventChatMessage {
			t.Fatalf("%s: expected chat-message, got %q", name, ev.Type)
		}
		chat := decodePayload[model.ChatMessage](t, ev)
		if chat.Message != "hello" || chat.Username != "bob" {
			t.Fatalf("%s: unexpected chat payload %+v", name, chat)
		}
		if _, err := time.Parse(time.RFC3339, chat.Date); err != nil {
			t.Fatalf("%s: chat date is not RFC3339: %v", name, err)
		}
	}

	// Bob leaves; alice learns who left.
	deadline := time.Now().Add(time.Second)
	_ = bob.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = bob.Close()

	ev = readEvent(t, alice)
	if ev.Type != model.EventUserLeft {
		t.Fatalf("expected user-left, got %q", ev.Type)
	}
	if left := decodePayload[model.UserLeft](t, ev); left.Username != "bob" {
		t.Fatalf("unexpected user-left payload %+v", left)
	}
}

func TestSignalBeforeJoinGetsErrorOverWire(t *testing.T) {
	ts := newTestServer(t)

	conn := dialWS(t, ts)
	writeEvent(t, conn, model.EventOffer, map[string]string{"sdp": "early"})

	ev := readEvent(t, conn)
	if ev.Type != model.EventError {
		t.Fatalf("expected error event, got %q", ev.Type)
	}
	if p := decodePayload[model.ErrorPayload](t, ev); p.Error != "join a room first" {
		t.Fatalf("unexpected error payload %+v", p)
	}
}
