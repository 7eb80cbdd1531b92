package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/typio/virtualoffice/backend-go/internal/db"
	"github.com/typio/virtualoffice/backend-go/internal/presence"
)

// Postgres keeps presence records in the presence_participants table.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres connects, pings and migrates.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := db.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Postgres{pool: pool, now: time.Now}, nil
}

func (s *Postgres) Upsert(ctx context.Context, officeID, roomID string, p presence.Participant) error {
	p = presence.Stamp(p, officeID, roomID, s.now())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO presence_participants
			(office_id, room_id, user_id, name, email, avatar, external_id, role, current_room, joined_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (office_id, room_id, user_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			avatar = EXCLUDED.avatar,
			external_id = EXCLUDED.external_id,
			role = EXCLUDED.role,
			current_room = EXCLUDED.current_room,
			joined_at = EXCLUDED.joined_at,
			last_seen = EXCLUDED.last_seen
	`, officeID, roomID, p.ID, p.DisplayName, p.Email, p.Avatar, p.ExternalID, string(p.Role), p.CurrentRoom, p.JoinedAt, p.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func (s *Postgres) Remove(ctx context.Context, officeID, roomID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM presence_participants
		WHERE office_id = $1 AND room_id = $2 AND user_id = $3
	`, officeID, roomID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

func (s *Postgres) Touch(ctx context.Context, officeID, roomID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE presence_participants
		SET last_seen = $4
		WHERE office_id = $1 AND room_id = $2 AND user_id = $3
	`, officeID, roomID, userID, s.now())
	if err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	return nil
}

func (s *Postgres) ListByOffice(ctx context.Context, officeID string) (map[string][]presence.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT office_id, room_id, user_id, name, email, avatar, external_id, role, current_room, joined_at, last_seen
		FROM presence_participants
		WHERE office_id = $1
		ORDER BY room_id, joined_at, user_id
	`, officeID)
	if err != nil {
		return nil, fmt.Errorf("list office participants: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]presence.Participant)
	for rows.Next() {
		var (
			p    presence.Participant
			role string
		)
		if err := rows.Scan(&p.OfficeID, &p.RoomID, &p.ID, &p.DisplayName, &p.Email, &p.Avatar,
			&p.ExternalID, &role, &p.CurrentRoom, &p.JoinedAt, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Role = presence.Role(role)
		out[p.RoomID] = append(out[p.RoomID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return out, nil
}

func (s *Postgres) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) Name() string { return "postgres" }
