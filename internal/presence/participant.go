package presence

import (
	"slices"
	"strings"
	"time"

	"github.com/typio/virtualoffice/backend-go/internal/typeid"
)

// DefaultOffice is used when a join request names no office.
const DefaultOffice = "default"

type Role string

const (
	RoleMember Role = "member"
	RoleOwner  Role = "owner"
	RoleGuest  Role = "guest"
)

// Participant is the externally visible presence record of one user.
// It never carries a connection handle.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	ExternalID  string    `json:"external_id,omitempty"`
	OfficeID    string    `json:"office_id"`
	RoomID      string    `json:"room_id"`
	CurrentRoom string    `json:"current_room,omitempty"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Info is the participant metadata supplied by the transport on join.
type Info struct {
	ID          string
	DisplayName string
	Email       string
	Avatar      string
	ExternalID  string
	OfficeID    string
	Role        Role
}

func newParticipant(info Info, roomID string, now time.Time, newID func() string) Participant {
	id := info.ID
	if id == "" {
		id = newID()
	}
	officeID := info.OfficeID
	if officeID == "" {
		officeID = DefaultOffice
	}
	role := info.Role
	if role == "" {
		role = RoleMember
	}
	return Participant{
		ID:          id,
		DisplayName: info.DisplayName,
		Email:       info.Email,
		Avatar:      info.Avatar,
		ExternalID:  info.ExternalID,
		OfficeID:    officeID,
		RoomID:      roomID,
		CurrentRoom: roomID,
		Role:        role,
		JoinedAt:    now,
		LastSeen:    now,
	}
}

// Stamp applies the durable record policy shared by every Store backend:
// the record is keyed to officeID/roomID, JoinedAt is kept when already set
// and LastSeen is refreshed to now.
func Stamp(p Participant, officeID, roomID string, now time.Time) Participant {
	p.OfficeID = officeID
	p.RoomID = roomID
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}
	p.LastSeen = now
	return p
}

// SortParticipants orders by join time, then id.
func SortParticipants(ps []Participant) {
	slices.SortFunc(ps, func(a, b Participant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func defaultID() string { return typeid.NewUserID() }
