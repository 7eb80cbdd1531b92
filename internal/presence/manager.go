package presence

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

const defaultStoreTimeout = 5 * time.Second

// Manager is the presence façade used by the transport and the admin API.
// It owns the room and office registries, the reverse indices and the
// Store handle. Registry mutations are serialized by mu; broadcasts and
// store I/O never run while mu is held.
type Manager struct {
	mu         sync.Mutex
	rooms      roomRegistry
	offices    officeRegistry
	userOffice map[string]string
	userRoom   map[string]string

	store        Store
	storeTimeout time.Duration
	onStoreError func(op string, err error)
	now          func() time.Time
	newID        func() string

	pending sync.WaitGroup
	tailMu  sync.Mutex
	tails   map[string]chan struct{}
}

type Option func(*Manager)

// WithStoreTimeout bounds each detached store operation.
func WithStoreTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.storeTimeout = d
		}
	}
}

// WithStoreErrorHandler installs a sink that receives every swallowed
// store error in addition to the log line.
func WithStoreErrorHandler(fn func(op string, err error)) Option {
	return func(m *Manager) { m.onStoreError = fn }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		rooms:        newRoomRegistry(),
		offices:      newOfficeRegistry(),
		userOffice:   make(map[string]string),
		userRoom:     make(map[string]string),
		store:        store,
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
		newID:        defaultID,
		tails:        make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect registers c under roomID. With info it also creates the
// participant, indexes it in both registries, persists it in the
// background and announces it to the rest of the room. The joiner is not
// sent user_joined; the transport sends it a participants_list instead.
func (m *Manager) Connect(roomID string, c Conn, info *Info) (Participant, bool) {
	m.mu.Lock()
	m.rooms.addConnection(roomID, c)
	if info == nil {
		total := m.rooms.connectionCount(roomID)
		m.mu.Unlock()
		slog.Info("connection joined room", "room", roomID, "connections", total, "anonymous", true)
		return Participant{}, false
	}

	p := newParticipant(*info, roomID, m.now(), m.newID)
	staleRoom, staleLeft := m.dropStaleLocked(p.ID)

	m.rooms.addMember(roomID, &entry{participant: p, conn: c})
	m.offices.add(p.OfficeID, &entry{participant: p, conn: c})
	m.userOffice[p.ID] = p.OfficeID
	m.userRoom[p.ID] = roomID
	count := m.rooms.memberCount(roomID)
	total := m.rooms.connectionCount(roomID)
	m.persist("upsert", recordKey(p.OfficeID, roomID, p.ID), func(ctx context.Context) error {
		return m.store.Upsert(ctx, p.OfficeID, roomID, p)
	})
	m.mu.Unlock()

	slog.Info("connection joined room", "room", roomID, "office", p.OfficeID, "user", p.ID, "connections", total)

	if staleLeft != nil && staleRoom != roomID {
		m.Broadcast(staleRoom, *staleLeft, nil)
	}

	m.Broadcast(roomID, UserJoined{
		Type:              TypeUserJoined,
		User:              p,
		ParticipantsCount: count,
	}, c)
	return p, true
}

// dropStaleLocked removes the previous room and office entries of a user id
// that connects again, keeping each id in at most one room and one office.
// The old handle stays registered as an anonymous connection. It returns
// the user_left notice owed to the old room, if there was one.
func (m *Manager) dropStaleLocked(userID string) (string, *UserLeft) {
	officeID, ok := m.userOffice[userID]
	if !ok {
		return "", nil
	}
	var (
		oldRoom string
		left    *UserLeft
	)
	if e, ok := m.offices.get(officeID, userID); ok {
		oldRoom = e.participant.RoomID
		m.rooms.dropMember(oldRoom, userID)
		m.persist("remove", recordKey(officeID, oldRoom, userID), func(ctx context.Context) error {
			return m.store.Remove(ctx, officeID, oldRoom, userID)
		})
		left = &UserLeft{
			Type:              TypeUserLeft,
			UserID:            userID,
			ParticipantsCount: m.rooms.memberCount(oldRoom),
		}
	}
	m.offices.remove(officeID, userID)
	delete(m.userOffice, userID)
	delete(m.userRoom, userID)
	return oldRoom, left
}

// Disconnect unregisters c from roomID. Calling it for a handle that is no
// longer registered is a no-op.
func (m *Manager) Disconnect(roomID string, c Conn) {
	m.mu.Lock()
	userID, found := m.rooms.removeConnection(roomID, c)
	if !found {
		m.mu.Unlock()
		return
	}

	officeID := DefaultOffice
	if userID != "" {
		if id, ok := m.userOffice[userID]; ok {
			officeID = id
		}
		if e, ok := m.offices.get(officeID, userID); !ok || e.conn == c {
			m.offices.remove(officeID, userID)
			delete(m.userOffice, userID)
			delete(m.userRoom, userID)
		}
	}
	remaining := m.rooms.connectionCount(roomID)
	count := m.rooms.memberCount(roomID)
	if userID != "" {
		m.persist("remove", recordKey(officeID, roomID, userID), func(ctx context.Context) error {
			return m.store.Remove(ctx, officeID, roomID, userID)
		})
	}
	m.mu.Unlock()

	if userID == "" {
		slog.Info("connection left room", "room", roomID, "remaining", remaining, "anonymous", true)
	} else {
		slog.Info("connection left room", "room", roomID, "office", officeID, "user", userID, "remaining", remaining)

		if remaining > 0 {
			m.Broadcast(roomID, UserLeft{
				Type:              TypeUserLeft,
				UserID:            userID,
				ParticipantsCount: count,
			}, nil)
		}
	}

	if remaining == 0 {
		slog.Info("room empty, removed", "room", roomID)
	}
}

// MoveUserToRoom changes the office-level current room of userID and tells
// the whole office. Connection ownership in the room registry is left to
// the transport. It reports false when the user has no office affiliation.
func (m *Manager) MoveUserToRoom(userID, newRoomID string) bool {
	m.mu.Lock()
	officeID, ok := m.userOffice[userID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	fromRoom := m.userRoom[userID]
	if m.offices.setCurrentRoom(officeID, userID, newRoomID) {
		m.userRoom[userID] = newRoomID
	}
	snapshot := m.offices.groupedByRoom(officeID)
	m.mu.Unlock()

	slog.Info("user moved room", "user", userID, "office", officeID, "from", fromRoom, "to", newRoomID)

	m.BroadcastToOffice(officeID, UserMovedRoom{
		Type:               TypeUserMovedRoom,
		UserID:             userID,
		FromRoom:           fromRoom,
		ToRoom:             newRoomID,
		OfficeParticipants: snapshot,
	}, nil)
	return true
}

// Touch records activity for userID on the live records and in the store.
func (m *Manager) Touch(userID string) bool {
	m.mu.Lock()
	officeID, ok := m.userOffice[userID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	e, ok := m.offices.get(officeID, userID)
	if !ok {
		m.mu.Unlock()
		return false
	}
	e.participant.LastSeen = now
	roomID := e.participant.RoomID
	if re, ok := m.rooms.member(roomID, userID); ok {
		re.participant.LastSeen = now
	}
	m.persist("touch", recordKey(officeID, roomID, userID), func(ctx context.Context) error {
		return m.store.Touch(ctx, officeID, roomID, userID)
	})
	m.mu.Unlock()
	return true
}

// RoomParticipants lists everyone physically in roomID.
func (m *Manager) RoomParticipants(roomID string) []Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms.participants(roomID)
}

// LiveOfficeParticipants groups the office's live members by current room.
func (m *Manager) LiveOfficeParticipants(officeID string) map[string][]Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offices.groupedByRoom(officeID)
}

// OfficeParticipants reads the durable view of an office, which may include
// rooms without live connections. Store failures yield an empty mapping.
func (m *Manager) OfficeParticipants(ctx context.Context, officeID string) map[string][]Participant {
	rooms, err := m.store.ListByOffice(ctx, officeID)
	if err != nil {
		slog.Error("list office participants", "office", officeID, "store", m.store.Name(), "error", err)
		return map[string][]Participant{}
	}
	return rooms
}

// UserRoom reports the room userID is currently associated with.
func (m *Manager) UserRoom(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.userRoom[userID]
	return roomID, ok
}

type RoomSummary struct {
	ID           string `json:"id"`
	Connections  int    `json:"connections"`
	Participants int    `json:"participants"`
}

func (m *Manager) Rooms() []RoomSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RoomSummary, 0, len(m.rooms.rooms))
	for id, rm := range m.rooms.rooms {
		out = append(out, RoomSummary{ID: id, Connections: len(rm.conns), Participants: len(rm.members)})
	}
	slices.SortFunc(out, func(a, b RoomSummary) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (m *Manager) ActiveRoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms.rooms)
}

func (m *Manager) TotalConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, rm := range m.rooms.rooms {
		total += len(rm.conns)
	}
	return total
}

func (m *Manager) StoreName() string { return m.store.Name() }

// Wait blocks until every detached store operation has finished.
func (m *Manager) Wait() {
	m.pending.Wait()
}
