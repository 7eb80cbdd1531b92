// Package office serves the read and admin HTTP surface over the live
// presence manager.
package office

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/typio/virtualoffice/backend-go/internal/presence"
)

var ErrNotInOffice = errors.New("user is not in an office")

// Presence is the part of the manager the handlers use.
type Presence interface {
	Rooms() []presence.RoomSummary
	RoomParticipants(roomID string) []presence.Participant
	OfficeParticipants(ctx context.Context, officeID string) map[string][]presence.Participant
	LiveOfficeParticipants(officeID string) map[string][]presence.Participant
	MoveUserToRoom(userID, newRoomID string) bool
	ActiveRoomCount() int
	TotalConnectionCount() int
	StoreName() string
}

type Handler struct {
	presence Presence
	validate *validator.Validate
}

func NewHandler(p Presence) *Handler {
	return &Handler{presence: p, validate: validator.New()}
}

type moveRequest struct {
	ToRoom string `json:"to_room" validate:"required,max=128"`
}

type roomsResponse struct {
	Rooms            []presence.RoomSummary `json:"rooms"`
	ActiveRooms      int                    `json:"active_rooms"`
	TotalConnections int                    `json:"total_connections"`
}

type statsResponse struct {
	ActiveRooms      int    `json:"active_rooms"`
	TotalConnections int    `json:"total_connections"`
	Store            string `json:"store"`
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, roomsResponse{
		Rooms:            h.presence.Rooms(),
		ActiveRooms:      h.presence.ActiveRoomCount(),
		TotalConnections: h.presence.TotalConnectionCount(),
	})
}

func (h *Handler) RoomParticipants(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":      roomID,
		"participants": h.presence.RoomParticipants(roomID),
	})
}

// OfficeParticipants is the durable-store view, which can include rooms
// no longer held by a live connection on this process.
func (h *Handler) OfficeParticipants(w http.ResponseWriter, r *http.Request) {
	officeID := mux.Vars(r)["officeId"]
	writeJSON(w, http.StatusOK, map[string]any{
		"office_id": officeID,
		"rooms":     h.presence.OfficeParticipants(r.Context(), officeID),
	})
}

func (h *Handler) OfficePresence(w http.ResponseWriter, r *http.Request) {
	officeID := mux.Vars(r)["officeId"]
	writeJSON(w, http.StatusOK, map[string]any{
		"office_id": officeID,
		"rooms":     h.presence.LiveOfficeParticipants(officeID),
	})
}

func (h *Handler) MoveUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "to_room is required"})
		return
	}

	if !h.presence.MoveUserToRoom(userID, req.ToRoom) {
		handleServiceError(w, ErrNotInOffice)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "moved", "user_id": userID, "to_room": req.ToRoom})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		ActiveRooms:      h.presence.ActiveRoomCount(),
		TotalConnections: h.presence.TotalConnectionCount(),
		Store:            h.presence.StoreName(),
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"store":       h.presence.StoreName(),
		"connections": h.presence.TotalConnectionCount(),
	})
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotInOffice):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		slog.Error("office request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
