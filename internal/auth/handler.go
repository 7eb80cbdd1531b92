package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type Handler struct {
	invitations *Invitations
	validate    *validator.Validate
}

func NewHandler(invitations *Invitations) *Handler {
	return &Handler{invitations: invitations, validate: validator.New()}
}

type inviteRequest struct {
	RoomID       string `json:"room_id" validate:"omitempty,max=128"`
	InviterName  string `json:"inviter_name" validate:"required,max=128"`
	InviterEmail string `json:"inviter_email" validate:"required,email"`
	InviteeEmail string `json:"invitee_email" validate:"required,email"`
	Message      string `json:"message" validate:"max=1000"`
}

type inviteResponse struct {
	Token      string     `json:"token"`
	Link       string     `json:"invitation_link"`
	Invitation Invitation `json:"invitation"`
}

// CreateInvitation handles POST /api/offices/{officeId}/invitations.
func (h *Handler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	officeID := mux.Vars(r)["officeId"]

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	token, inv, err := h.invitations.Issue(Invitation{
		OfficeID:     officeID,
		RoomID:       req.RoomID,
		InviterName:  req.InviterName,
		InviterEmail: req.InviterEmail,
		InviteeEmail: req.InviteeEmail,
		Message:      req.Message,
	})
	if err != nil {
		slog.Error("issue invitation failed", "error", err, "office", officeID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	slog.Info("invitation issued", "id", inv.ID, "office", officeID, "room", inv.RoomID)
	writeJSON(w, http.StatusCreated, inviteResponse{
		Token:      token,
		Link:       h.invitations.Link(inv, token),
		Invitation: inv,
	})
}

// GetInvitation handles GET /api/invitations/{token}.
func (h *Handler) GetInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invitations.Parse(mux.Vars(r)["token"])
	if err != nil {
		if errors.Is(err, ErrInvalidInvitation) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "invitation not found or expired"})
			return
		}
		slog.Error("parse invitation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, inv)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
