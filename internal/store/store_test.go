package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/typio/virtualoffice/backend-go/internal/presence"
)

var t0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

// exerciseStore runs the behaviour every backend must share against s.
func exerciseStore(t *testing.T, s presence.Store) {
	req := require.New(t)
	ctx := context.Background()

	// Given two rooms in one office and one participant elsewhere
	req.NoError(s.Upsert(ctx, "o1", "r1", presence.Participant{ID: "u2", DisplayName: "Bob", JoinedAt: t0.Add(time.Second)}))
	req.NoError(s.Upsert(ctx, "o1", "r1", presence.Participant{ID: "u1", DisplayName: "Alice", Role: presence.RoleOwner, JoinedAt: t0}))
	req.NoError(s.Upsert(ctx, "o1", "lobby/b", presence.Participant{ID: "u3", DisplayName: "Carol", JoinedAt: t0}))
	req.NoError(s.Upsert(ctx, "o2", "r1", presence.Participant{ID: "u4", DisplayName: "Dan", JoinedAt: t0}))

	// When the office is listed
	rooms, err := s.ListByOffice(ctx, "o1")
	req.NoError(err)

	// Then rooms are grouped, ordered by join time and stamped
	req.ElementsMatch([]string{"r1", "lobby/b"}, lo.Keys(rooms))
	req.Equal([]string{"u1", "u2"}, lo.Map(rooms["r1"], func(p presence.Participant, _ int) string { return p.ID }))
	alice := rooms["r1"][0]
	req.Equal("Alice", alice.DisplayName)
	req.Equal(presence.RoleOwner, alice.Role)
	req.Equal("o1", alice.OfficeID)
	req.Equal("r1", alice.RoomID)
	req.True(alice.JoinedAt.Equal(t0))
	req.False(alice.LastSeen.IsZero())

	// Upsert overwrites in place
	alice.DisplayName = "Alice B."
	req.NoError(s.Upsert(ctx, "o1", "r1", alice))
	rooms, err = s.ListByOffice(ctx, "o1")
	req.NoError(err)
	req.Len(rooms["r1"], 2)
	req.Equal("Alice B.", rooms["r1"][0].DisplayName)
	req.True(rooms["r1"][0].JoinedAt.Equal(t0))

	// Touch never moves the join time and ignores unknown records
	before := rooms["r1"][0].LastSeen
	req.NoError(s.Touch(ctx, "o1", "r1", "u1"))
	req.NoError(s.Touch(ctx, "o1", "r1", "ghost"))
	rooms, err = s.ListByOffice(ctx, "o1")
	req.NoError(err)
	req.False(rooms["r1"][0].LastSeen.Before(before))
	req.True(rooms["r1"][0].JoinedAt.Equal(t0))
	req.Len(rooms["r1"], 2)

	// Removing the last participant drops the room; repeats are no-ops
	req.NoError(s.Remove(ctx, "o1", "lobby/b", "u3"))
	req.NoError(s.Remove(ctx, "o1", "lobby/b", "u3"))
	req.NoError(s.Remove(ctx, "o404", "r1", "u1"))
	rooms, err = s.ListByOffice(ctx, "o1")
	req.NoError(err)
	req.NotContains(rooms, "lobby/b")
	req.Len(rooms["r1"], 2)

	// Offices are isolated
	other, err := s.ListByOffice(ctx, "o2")
	req.NoError(err)
	req.Len(other["r1"], 1)

	empty, err := s.ListByOffice(ctx, "o404")
	req.NoError(err)
	req.Empty(empty)

	req.NoError(s.Ping(ctx))
}

func TestMemory_Contract(t *testing.T) {
	exerciseStore(t, presence.NewMemoryStore())
}

func TestBadger_Contract(t *testing.T) {
	s, err := NewBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exerciseStore(t, s)
	require.Equal(t, "badger", s.Name())
}

func TestBadger_PingAfterClose(t *testing.T) {
	req := require.New(t)
	s, err := NewBadger(t.TempDir())
	req.NoError(err)
	req.NoError(s.Close())
	req.Error(s.Ping(context.Background()))
}

func TestBadger_PrefixDoesNotLeakAcrossOffices(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s, err := NewBadger(t.TempDir())
	req.NoError(err)
	t.Cleanup(func() { s.Close() })

	// Given offices whose ids share a prefix
	req.NoError(s.Upsert(ctx, "acme", "r1", presence.Participant{ID: "u1"}))
	req.NoError(s.Upsert(ctx, "acme/r1", "x", presence.Participant{ID: "u2"}))

	// Then each listing only sees its own office
	rooms, err := s.ListByOffice(ctx, "acme")
	req.NoError(err)
	req.Len(rooms, 1)
	req.Equal("u1", rooms["r1"][0].ID)
}

func TestRedis_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedis(mr.Addr(), 0)
	t.Cleanup(func() { s.Close() })

	exerciseStore(t, s)
	require.Equal(t, "redis", s.Name())
}

func TestRedis_RoomIndexFollowsRecords(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedis(mr.Addr(), 0)
	t.Cleanup(func() { s.Close() })

	req.NoError(s.Upsert(ctx, "o1", "r1", presence.Participant{ID: "u1"}))
	members, err := mr.SMembers(roomsKey("o1"))
	req.NoError(err)
	req.Equal([]string{"r1"}, members)

	req.NoError(s.Remove(ctx, "o1", "r1", "u1"))
	req.False(mr.Exists(roomsKey("o1")))
	req.False(mr.Exists(roomKey("o1", "r1")))
}

// interleaveHook runs during once, right after the first command that
// inspects the room hash has been answered.
type interleaveHook struct {
	during func()
	done   bool
}

func (h *interleaveHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *interleaveHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		switch cmd.Name() {
		case "hlen", "eval", "evalsha":
			if !h.done {
				h.done = true
				h.during()
			}
		}
		return err
	}
}

func (h *interleaveHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedis_RemoveKeepsRoomIndexedForConcurrentUpsert(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedis(mr.Addr(), 0)
	other := NewRedis(mr.Addr(), 0)
	t.Cleanup(func() {
		s.Close()
		other.Close()
	})

	// Given alice alone in the room
	req.NoError(s.Upsert(ctx, "o1", "r1", presence.Participant{ID: "a", JoinedAt: t0}))

	// When bob joins the room while alice's removal is in flight
	s.rdb.AddHook(&interleaveHook{during: func() {
		req.NoError(other.Upsert(ctx, "o1", "r1", presence.Participant{ID: "b", JoinedAt: t0}))
	}})
	req.NoError(s.Remove(ctx, "o1", "r1", "a"))

	// Then bob is still reachable through the office listing
	rooms, err := s.ListByOffice(ctx, "o1")
	req.NoError(err)
	req.Len(rooms["r1"], 1)
	req.Equal("b", rooms["r1"][0].ID)
}

func TestRedis_ConcurrentJoinAndLeaveInOneRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedis(mr.Addr(), 0)
	t.Cleanup(func() { s.Close() })

	// Given many users churning through one room while "stay" remains
	req.NoError(s.Upsert(ctx, "o1", "r1", presence.Participant{ID: "stay", JoinedAt: t0}))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				s.Upsert(ctx, "o1", "r1", presence.Participant{ID: id, JoinedAt: t0})
				s.Remove(ctx, "o1", "r1", id)
			}
		}(fmt.Sprintf("u%d", i))
	}
	wg.Wait()

	// Then the remaining user is listed
	rooms, err := s.ListByOffice(ctx, "o1")
	req.NoError(err)
	req.Len(rooms["r1"], 1)
	req.Equal("stay", rooms["r1"][0].ID)
}

func TestPostgres_Contract(t *testing.T) {
	url := os.Getenv("PRESENCE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PRESENCE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgres(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.pool.Exec(ctx, `DELETE FROM presence_participants WHERE office_id IN ('o1', 'o2')`)
		s.Close()
	})

	exerciseStore(t, s)
}

func TestOpen_Memory(t *testing.T) {
	req := require.New(t)
	s, err := Open(context.Background(), Config{Backend: BackendMemory})
	req.NoError(err)
	req.Equal("memory", s.Name())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "etcd"})
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestOpen_SelectsReachableBackend(t *testing.T) {
	req := require.New(t)
	mr := miniredis.RunT(t)

	s, err := Open(context.Background(), Config{Backend: BackendRedis, RedisAddr: mr.Addr()})
	req.NoError(err)
	t.Cleanup(func() { s.Close() })
	req.Equal("redis", s.Name())

	s2, err := Open(context.Background(), Config{Backend: BackendBadger, BadgerPath: t.TempDir()})
	req.NoError(err)
	t.Cleanup(func() { s2.Close() })
	req.Equal("badger", s2.Name())
}

func TestOpen_FallsBackWhenUnreachable(t *testing.T) {
	req := require.New(t)

	// Given backends that cannot be reached
	cases := []Config{
		{Backend: BackendRedis, RedisAddr: "127.0.0.1:1", ProbeTimeout: time.Second},
		{Backend: BackendPostgres, ProbeTimeout: time.Second},
		{Backend: BackendBadger},
	}
	for _, cfg := range cases {
		// When the store is opened
		s, err := Open(context.Background(), cfg)

		// Then the in-memory fallback is used and behaves like any store
		req.NoError(err, cfg.Backend)
		req.Equal("memory", s.Name(), cfg.Backend)
	}

	s, _ := Open(context.Background(), cases[0])
	exerciseStore(t, s)
}
