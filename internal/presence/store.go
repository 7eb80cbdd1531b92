package presence

import (
	"context"
	"sync"
	"time"
)

// Store persists participant records keyed by office, room and user.
// Every backend implements the same contract so the Manager does not care
// which one it was given.
type Store interface {
	// Upsert overwrites the record at (officeID, roomID, p.ID), applying Stamp.
	Upsert(ctx context.Context, officeID, roomID string, p Participant) error
	// Remove deletes the record; absent records are not an error.
	Remove(ctx context.Context, officeID, roomID, userID string) error
	// Touch refreshes LastSeen only; absent records are not an error.
	Touch(ctx context.Context, officeID, roomID, userID string) error
	// ListByOffice returns room id -> participants, empty for unknown offices.
	ListByOffice(ctx context.Context, officeID string) (map[string][]Participant, error)

	Ping(ctx context.Context) error
	Close() error
	Name() string
}

// MemoryStore is the in-process fallback Store.
type MemoryStore struct {
	mu      sync.RWMutex
	offices map[string]map[string]map[string]Participant // office -> room -> user
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		offices: make(map[string]map[string]map[string]Participant),
		now:     time.Now,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, officeID, roomID string, p Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms, ok := s.offices[officeID]
	if !ok {
		rooms = make(map[string]map[string]Participant)
		s.offices[officeID] = rooms
	}
	users, ok := rooms[roomID]
	if !ok {
		users = make(map[string]Participant)
		rooms[roomID] = users
	}
	users[p.ID] = Stamp(p, officeID, roomID, s.now())
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, officeID, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms, ok := s.offices[officeID]
	if !ok {
		return nil
	}
	users, ok := rooms[roomID]
	if !ok {
		return nil
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(rooms, roomID)
	}
	if len(rooms) == 0 {
		delete(s.offices, officeID)
	}
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, officeID, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.offices[officeID][roomID][userID]
	if !ok {
		return nil
	}
	p.LastSeen = s.now()
	s.offices[officeID][roomID][userID] = p
	return nil
}

func (s *MemoryStore) ListByOffice(_ context.Context, officeID string) (map[string][]Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]Participant, len(s.offices[officeID]))
	for roomID, users := range s.offices[officeID] {
		ps := make([]Participant, 0, len(users))
		for _, p := range users {
			ps = append(ps, p)
		}
		SortParticipants(ps)
		result[roomID] = ps
	}
	return result, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Name() string { return "memory" }
