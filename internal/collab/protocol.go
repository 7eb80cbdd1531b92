package collab

import (
	"github.com/typio/virtualoffice/backend-go/internal/presence"
)

const (
	// Client -> server
	TypeJoin      = "join"
	TypeMoveRoom  = "move_room"
	TypeHeartbeat = "heartbeat"

	// Server -> client
	TypeWelcome = "welcome"
	TypeError   = "error"
)

// Frame is the part of an inbound message the server looks at. Everything
// else in the frame is relayed untouched.
type Frame struct {
	Type   string    `json:"type"`
	User   *JoinUser `json:"user,omitempty"`
	ToRoom string    `json:"to_room,omitempty"`
}

// JoinUser is the participant info carried by an identified join frame.
type JoinUser struct {
	ID         string `json:"id" validate:"omitempty,max=128"`
	Name       string `json:"name" validate:"omitempty,max=128"`
	Email      string `json:"email" validate:"omitempty,email"`
	Avatar     string `json:"avatar" validate:"omitempty,url"`
	ExternalID string `json:"external_id" validate:"omitempty,max=256"`
	OfficeID   string `json:"office_id" validate:"omitempty,max=128"`
	Role       string `json:"role" validate:"omitempty,oneof=member owner guest"`
}

func (u JoinUser) Info() *presence.Info {
	return &presence.Info{
		ID:          u.ID,
		DisplayName: u.Name,
		Email:       u.Email,
		Avatar:      u.Avatar,
		ExternalID:  u.ExternalID,
		OfficeID:    u.OfficeID,
		Role:        presence.Role(u.Role),
	}
}

type Welcome struct {
	Type string               `json:"type"`
	User presence.Participant `json:"user"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newError(msg string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: msg}
}
