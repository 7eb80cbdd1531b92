package collab

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/typio/virtualoffice/backend-go/internal/metrics"
	"github.com/typio/virtualoffice/backend-go/internal/presence"
)

type Options struct {
	OriginPatterns []string
	MaxMessageSize int64
	SendBuffer     int
}

// Hub is the websocket edge of the presence manager. It owns the join
// handshake and the relay; all membership state lives in the manager.
type Hub struct {
	manager  *presence.Manager
	validate *validator.Validate
	opts     Options
	sessions sync.WaitGroup
}

func NewHub(manager *presence.Manager, opts Options) *Hub {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMsgSize
	}
	return &Hub{
		manager:  manager,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
	}
}

// session is the per-connection state of ServeWS.
type session struct {
	client *Client
	roomID string
	userID string
	joined bool
}

// ServeWS upgrades /ws/{roomId} and serves the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		slog.Error("websocket accept", "error", err, "room", roomID)
		return
	}
	conn.SetReadLimit(h.opts.MaxMessageSize)
	h.sessions.Add(1)
	defer h.sessions.Done()

	s := &session{client: NewClient(conn, h.opts.SendBuffer), roomID: roomID}
	defer func() {
		if s.joined {
			h.manager.Disconnect(roomID, s.client)
		}
		s.client.Close()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	go s.client.WritePump(ctx)
	s.client.ReadPump(ctx, func(data []byte) { h.handleFrame(s, data) })
}

// Wait blocks until every served connection has been torn down.
func (h *Hub) Wait() {
	h.sessions.Wait()
}

func (h *Hub) handleFrame(s *session, data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		slog.Warn("invalid message", "error", err, "client", s.client.ID, "room", s.roomID)
		return
	}

	if !s.joined {
		s.joined = true
		if h.join(s, frame) {
			return
		}
	}

	switch frame.Type {
	case TypeMoveRoom:
		h.handleMoveRoom(s, frame)
	case TypeHeartbeat:
		if s.userID != "" {
			h.manager.Touch(s.userID)
		}
	default:
		metrics.FramesRelayed.Inc()
		h.manager.Broadcast(s.roomID, json.RawMessage(data), s.client)
	}
}

// join registers the connection on its first frame. An identified join
// frame is consumed and reported as handled; any other first frame joins
// anonymously and is then processed like every later frame.
func (h *Hub) join(s *session, frame Frame) bool {
	var info *presence.Info
	if frame.Type == TypeJoin && frame.User != nil {
		if err := h.validate.Struct(frame.User); err != nil {
			slog.Warn("invalid join user, joining anonymously", "error", err, "room", s.roomID)
			h.reply(s, newError("invalid user: "+err.Error()))
		} else {
			info = frame.User.Info()
		}
	}

	p, identified := h.manager.Connect(s.roomID, s.client, info)
	if identified {
		s.userID = p.ID
		h.reply(s, Welcome{Type: TypeWelcome, User: p})
	}
	h.reply(s, presence.NewParticipantsList(h.manager.RoomParticipants(s.roomID)))
	return info != nil
}

func (h *Hub) handleMoveRoom(s *session, frame Frame) {
	if err := h.validate.Var(frame.ToRoom, "required,max=128"); err != nil {
		h.reply(s, newError("to_room is required"))
		return
	}
	if s.userID == "" || !h.manager.MoveUserToRoom(s.userID, frame.ToRoom) {
		h.reply(s, newError("user is not in an office"))
	}
}

// reply sends msg to the session's own client. A failed send means the
// client is already closing, so it is only logged.
func (h *Hub) reply(s *session, msg any) {
	if err := s.client.Send(msg); err != nil {
		slog.Debug("reply to client", "error", err, "client", s.client.ID, "room", s.roomID)
	}
}
