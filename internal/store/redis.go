package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/typio/virtualoffice/backend-go/internal/presence"
)

// Redis keeps one hash per room (user id -> JSON record) and one set per
// office listing the rooms that currently hold records.
type Redis struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedis(addr string, database int) *Redis {
	return &Redis{
		rdb: redis.NewClient(&redis.Options{Addr: addr, DB: database}),
		now: time.Now,
	}
}

func roomsKey(officeID string) string {
	return "presence:" + url.QueryEscape(officeID) + ":rooms"
}

func roomKey(officeID, roomID string) string {
	return "presence:" + url.QueryEscape(officeID) + ":room:" + url.QueryEscape(roomID)
}

func (s *Redis) Upsert(ctx context.Context, officeID, roomID string, p presence.Participant) error {
	raw, err := json.Marshal(presence.Stamp(p, officeID, roomID, s.now()))
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, roomKey(officeID, roomID), p.ID, raw)
		pipe.SAdd(ctx, roomsKey(officeID), roomID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

// removeScript deletes a record and unindexes the room once its hash is
// empty. As a script it is atomic with respect to Upsert's MULTI block.
var removeScript = redis.NewScript(`
redis.call('HDEL', KEYS[1], ARGV[1])
if redis.call('HLEN', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[2], ARGV[2])
end
return 0
`)

func (s *Redis) Remove(ctx context.Context, officeID, roomID, userID string) error {
	keys := []string{roomKey(officeID, roomID), roomsKey(officeID)}
	if err := removeScript.Run(ctx, s.rdb, keys, userID, roomID).Err(); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

func (s *Redis) Touch(ctx context.Context, officeID, roomID, userID string) error {
	key := roomKey(officeID, roomID)
	raw, err := s.rdb.HGet(ctx, key, userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load participant: %w", err)
	}
	var p presence.Participant
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode participant: %w", err)
	}
	p.LastSeen = s.now()
	raw, err = json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	if err := s.rdb.HSet(ctx, key, userID, raw).Err(); err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	return nil
}

func (s *Redis) ListByOffice(ctx context.Context, officeID string) (map[string][]presence.Participant, error) {
	roomIDs, err := s.rdb.SMembers(ctx, roomsKey(officeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list office rooms: %w", err)
	}

	cmds := make(map[string]*redis.MapStringStringCmd, len(roomIDs))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, roomID := range roomIDs {
			cmds[roomID] = pipe.HGetAll(ctx, roomKey(officeID, roomID))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load office rooms: %w", err)
	}

	out := make(map[string][]presence.Participant, len(cmds))
	for roomID, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		ps := make([]presence.Participant, 0, len(fields))
		for userID, raw := range fields {
			var p presence.Participant
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				return nil, fmt.Errorf("decode participant %s: %w", userID, err)
			}
			ps = append(ps, p)
		}
		presence.SortParticipants(ps)
		out[roomID] = ps
	}
	return out, nil
}

func (s *Redis) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Redis) Close() error { return s.rdb.Close() }

func (s *Redis) Name() string { return "redis" }
