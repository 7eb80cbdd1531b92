package collab

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/typio/virtualoffice/backend-go/internal/presence"
)

type testServer struct {
	manager *presence.Manager
	url     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	manager := presence.NewManager(presence.NewMemoryStore())
	hub := NewHub(manager, Options{})

	r := mux.NewRouter()
	r.HandleFunc("/ws/{roomId}", hub.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		manager.Wait()
	})
	return &testServer{manager: manager, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (s *testServer) dial(t *testing.T, roomID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, s.url+"/ws/"+roomID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, v))
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var frame map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &frame))
	return frame
}

func join(t *testing.T, conn *websocket.Conn, id, name string) {
	t.Helper()
	send(t, conn, map[string]any{"type": "join", "user": map[string]any{"id": id, "name": name}})
	require.Equal(t, TypeWelcome, read(t, conn)["type"])
	require.Equal(t, presence.TypeParticipantsList, read(t, conn)["type"])
}

func TestHub_IdentifiedJoin(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	// Given alice in the room
	alice := srv.dial(t, "r1")
	send(t, alice, map[string]any{"type": "join", "user": map[string]any{"id": "a", "name": "Alice", "office_id": "acme"}})
	welcome := read(t, alice)
	req.Equal(TypeWelcome, welcome["type"])
	req.Equal("a", welcome["user"].(map[string]any)["id"])
	req.Equal("acme", welcome["user"].(map[string]any)["office_id"])
	roster := read(t, alice)
	req.Equal(presence.TypeParticipantsList, roster["type"])
	req.Len(roster["participants"], 1)

	// When bob joins
	bob := srv.dial(t, "r1")
	send(t, bob, map[string]any{"type": "join", "user": map[string]any{"id": "b", "name": "Bob", "office_id": "acme"}})

	// Then bob gets the roster and alice is told about bob
	req.Equal(TypeWelcome, read(t, bob)["type"])
	roster = read(t, bob)
	req.Len(roster["participants"], 2)

	joined := read(t, alice)
	req.Equal(presence.TypeUserJoined, joined["type"])
	req.Equal("b", joined["user"].(map[string]any)["id"])
	req.EqualValues(2, joined["participants_count"])
}

func TestHub_RelaysFramesToOthersOnly(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	alice := srv.dial(t, "r1")
	join(t, alice, "a", "Alice")
	bob := srv.dial(t, "r1")
	join(t, bob, "b", "Bob")
	req.Equal(presence.TypeUserJoined, read(t, alice)["type"])

	// When alice chats and bob answers
	send(t, alice, map[string]any{"type": "chat", "id": "a", "text": "hi"})
	got := read(t, bob)
	req.Equal("chat", got["type"])
	req.Equal("hi", got["text"])
	send(t, bob, map[string]any{"type": "signal", "id": "b", "target": "a", "signal": map[string]any{"sdp": "x"}})

	// Then alice's next frame is bob's, not an echo of her own
	got = read(t, alice)
	req.Equal("signal", got["type"])
	req.Equal("b", got["id"])
}

func TestHub_AnonymousFirstFrame(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	alice := srv.dial(t, "r1")
	join(t, alice, "a", "Alice")

	// When a client opens with a signalling join
	anon := srv.dial(t, "r1")
	send(t, anon, map[string]any{"type": "join", "id": "peer-1"})

	// Then it is connected anonymously and its frame is still relayed
	roster := read(t, anon)
	req.Equal(presence.TypeParticipantsList, roster["type"])
	req.Len(roster["participants"], 1)

	relayed := read(t, alice)
	req.Equal("join", relayed["type"])
	req.Equal("peer-1", relayed["id"])

	req.Eventually(func() bool { return srv.manager.TotalConnectionCount() == 2 }, time.Second, 10*time.Millisecond)
	req.Len(srv.manager.RoomParticipants("r1"), 1)

	// And it cannot move rooms
	send(t, anon, map[string]any{"type": "move_room", "to_room": "r2"})
	errFrame := read(t, anon)
	req.Equal(TypeError, errFrame["type"])
}

func TestHub_InvalidJoinUserFallsBackToAnonymous(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	conn := srv.dial(t, "r1")
	send(t, conn, map[string]any{"type": "join", "user": map[string]any{"id": "a", "email": "not-an-email"}})

	req.Equal(TypeError, read(t, conn)["type"])
	req.Equal(presence.TypeParticipantsList, read(t, conn)["type"])
	req.Empty(srv.manager.RoomParticipants("r1"))
}

func TestHub_MoveRoomReachesTheOffice(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	alice := srv.dial(t, "r1")
	join(t, alice, "a", "Alice")
	bob := srv.dial(t, "r2")
	join(t, bob, "b", "Bob")

	// When alice moves to bob's room
	send(t, alice, map[string]any{"type": "move_room", "to_room": "r2"})

	// Then both connections in the office hear about it
	for _, conn := range []*websocket.Conn{alice, bob} {
		moved := read(t, conn)
		req.Equal(presence.TypeUserMovedRoom, moved["type"])
		req.Equal("a", moved["user_id"])
		req.Equal("r1", moved["from_room"])
		req.Equal("r2", moved["to_room"])
		req.Len(moved["office_participants"].(map[string]any)["r2"], 2)
	}

	// Connection ownership is unchanged
	req.Len(srv.manager.RoomParticipants("r1"), 1)
	room, _ := srv.manager.UserRoom("a")
	req.Equal("r2", room)

	// A move without a destination is rejected
	send(t, alice, map[string]any{"type": "move_room"})
	req.Equal(TypeError, read(t, alice)["type"])
}

func TestHub_DisconnectAnnouncesLeave(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	alice := srv.dial(t, "r1")
	join(t, alice, "a", "Alice")
	bob := srv.dial(t, "r1")
	join(t, bob, "b", "Bob")
	req.Equal(presence.TypeUserJoined, read(t, alice)["type"])

	// When bob goes away
	req.NoError(bob.Close(websocket.StatusNormalClosure, ""))

	// Then alice is told and bob's entries are gone
	left := read(t, alice)
	req.Equal(presence.TypeUserLeft, left["type"])
	req.Equal("b", left["user_id"])
	req.EqualValues(1, left["participants_count"])

	req.Eventually(func() bool { return srv.manager.TotalConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	_, ok := srv.manager.UserRoom("b")
	req.False(ok)
}

func TestHub_HeartbeatTouchesPresence(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	alice := srv.dial(t, "r1")
	join(t, alice, "a", "Alice")
	before := srv.manager.RoomParticipants("r1")[0].LastSeen

	time.Sleep(5 * time.Millisecond)
	send(t, alice, map[string]any{"type": "heartbeat"})

	req.Eventually(func() bool {
		ps := srv.manager.RoomParticipants("r1")
		return len(ps) == 1 && ps[0].LastSeen.After(before)
	}, time.Second, 10*time.Millisecond)
}

func TestHub_RepliesToClosedClientAreLogged(t *testing.T) {
	req := require.New(t)
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	manager := presence.NewManager(presence.NewMemoryStore())
	t.Cleanup(manager.Wait)
	hub := NewHub(manager, Options{})

	// Given a session whose client has already gone away
	s := &session{client: NewClient(nil, 1), roomID: "r1"}
	s.client.Close()

	// When it joins and then asks for an invalid move
	hub.handleFrame(s, []byte(`{"type":"join","user":{"id":"a","name":"Alice"}}`))
	hub.handleFrame(s, []byte(`{"type":"move_room"}`))
	manager.Disconnect("r1", s.client)
	manager.Wait()

	// Then every dropped reply is recorded
	req.Equal(3, strings.Count(logs.String(), "reply to client"))
	req.Contains(logs.String(), ErrClientClosed.Error())
}
