package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/typio/virtualoffice/backend-go/internal/typeid"
)

var ErrInvalidInvitation = errors.New("invalid invitation")

// Invitation is what an invite token grants: a way into one office,
// optionally landing in a specific room.
type Invitation struct {
	ID           string    `json:"id"`
	OfficeID     string    `json:"office_id"`
	RoomID       string    `json:"room_id,omitempty"`
	InviterName  string    `json:"inviter_name"`
	InviterEmail string    `json:"inviter_email"`
	InviteeEmail string    `json:"invitee_email"`
	Message      string    `json:"message,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type invitationClaims struct {
	OfficeID     string `json:"office_id"`
	RoomID       string `json:"room_id,omitempty"`
	InviterName  string `json:"inviter_name"`
	InviterEmail string `json:"inviter_email"`
	InviteeEmail string `json:"invitee_email"`
	Message      string `json:"message,omitempty"`
	jwt.RegisteredClaims
}

// Invitations issues and verifies HS256 invitation tokens.
type Invitations struct {
	secret    []byte
	ttl       time.Duration
	publicURL string
	now       func() time.Time
}

func NewInvitations(secret string, ttl time.Duration, publicURL string) *Invitations {
	return &Invitations{
		secret:    []byte(secret),
		ttl:       ttl,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// Issue signs inv with a fresh id and expiry and returns the token along
// with the completed invitation.
func (s *Invitations) Issue(inv Invitation) (string, Invitation, error) {
	now := s.now()
	inv.ID = typeid.NewInvitationID()
	inv.ExpiresAt = now.Add(s.ttl).Truncate(time.Second)

	claims := invitationClaims{
		OfficeID:     inv.OfficeID,
		RoomID:       inv.RoomID,
		InviterName:  inv.InviterName,
		InviterEmail: inv.InviterEmail,
		InviteeEmail: inv.InviteeEmail,
		Message:      inv.Message,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        inv.ID,
			Subject:   inv.InviteeEmail,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(inv.ExpiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", Invitation{}, fmt.Errorf("sign invitation: %w", err)
	}
	return signed, inv, nil
}

// Parse verifies a token and returns the invitation it carries. Any
// failure is reported as ErrInvalidInvitation.
func (s *Invitations) Parse(tokenString string) (*Invitation, error) {
	var claims invitationClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}
	if err := typeid.Validate(claims.ID, typeid.PrefixInvitation); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}
	if claims.OfficeID == "" {
		return nil, fmt.Errorf("%w: missing office", ErrInvalidInvitation)
	}

	return &Invitation{
		ID:           claims.ID,
		OfficeID:     claims.OfficeID,
		RoomID:       claims.RoomID,
		InviterName:  claims.InviterName,
		InviterEmail: claims.InviterEmail,
		InviteeEmail: claims.InviteeEmail,
		Message:      claims.Message,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// Link is the URL the invitee opens to land in the office.
func (s *Invitations) Link(inv Invitation, token string) string {
	q := url.Values{}
	if inv.RoomID != "" {
		q.Set("room", inv.RoomID)
	}
	q.Set("invitation", token)
	return s.publicURL + "/office/" + url.PathEscape(inv.OfficeID) + "?" + q.Encode()
}
