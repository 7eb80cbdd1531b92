package presence

// entry pairs a participant record with the connection that owns it.
type entry struct {
	participant Participant
	conn        Conn
}

type room struct {
	conns   []Conn            // insertion ordered, no duplicates
	members map[string]*entry // userID -> entry, physically in this room
}

// roomRegistry is not safe for concurrent use; Manager serializes access.
type roomRegistry struct {
	rooms map[string]*room
}

func newRoomRegistry() roomRegistry {
	return roomRegistry{rooms: make(map[string]*room)}
}

func (r *roomRegistry) addConnection(roomID string, c Conn) {
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[string]*entry)}
		r.rooms[roomID] = rm
	}
	for _, existing := range rm.conns {
		if existing == c {
			return
		}
	}
	rm.conns = append(rm.conns, c)
}

// addMember assumes addConnection already created the room.
func (r *roomRegistry) addMember(roomID string, e *entry) {
	r.rooms[roomID].members[e.participant.ID] = e
}

func (r *roomRegistry) member(roomID, userID string) (*entry, bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	e, ok := rm.members[userID]
	return e, ok
}

func (r *roomRegistry) dropMember(roomID, userID string) {
	if rm, ok := r.rooms[roomID]; ok {
		delete(rm.members, userID)
	}
}

// removeConnection unregisters c from roomID and returns the id of the
// participant it owned, if any. found is false when c was not registered.
// The room entry is deleted together with its members once the last
// connection leaves.
func (r *roomRegistry) removeConnection(roomID string, c Conn) (userID string, found bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return "", false
	}
	idx := -1
	for i, existing := range rm.conns {
		if existing == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}
	rm.conns = append(rm.conns[:idx], rm.conns[idx+1:]...)

	for id, e := range rm.members {
		if e.conn == c {
			userID = id
			delete(rm.members, id)
			break
		}
	}

	if len(rm.conns) == 0 {
		delete(r.rooms, roomID)
	}
	return userID, true
}

func (r *roomRegistry) participants(roomID string) []Participant {
	rm, ok := r.rooms[roomID]
	if !ok {
		return []Participant{}
	}
	ps := make([]Participant, 0, len(rm.members))
	for _, e := range rm.members {
		ps = append(ps, e.participant)
	}
	SortParticipants(ps)
	return ps
}

func (r *roomRegistry) connections(roomID string) []Conn {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Conn, len(rm.conns))
	copy(out, rm.conns)
	return out
}

func (r *roomRegistry) isEmpty(roomID string) bool {
	rm, ok := r.rooms[roomID]
	return !ok || len(rm.conns) == 0
}

func (r *roomRegistry) connectionCount(roomID string) int {
	if rm, ok := r.rooms[roomID]; ok {
		return len(rm.conns)
	}
	return 0
}

func (r *roomRegistry) memberCount(roomID string) int {
	if rm, ok := r.rooms[roomID]; ok {
		return len(rm.members)
	}
	return 0
}
