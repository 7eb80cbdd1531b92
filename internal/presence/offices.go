package presence

import "github.com/samber/lo"

// officeRegistry tracks office-wide presence independent of the physical
// room. Entries are copies, not the room registry's pointers, so
// CurrentRoom can diverge from the room a connection belongs to.
type officeRegistry struct {
	offices map[string]map[string]*entry // officeID -> userID -> entry
}

func newOfficeRegistry() officeRegistry {
	return officeRegistry{offices: make(map[string]map[string]*entry)}
}

func (o *officeRegistry) add(officeID string, e *entry) {
	members, ok := o.offices[officeID]
	if !ok {
		members = make(map[string]*entry)
		o.offices[officeID] = members
	}
	members[e.participant.ID] = e
}

func (o *officeRegistry) remove(officeID, userID string) {
	members, ok := o.offices[officeID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(o.offices, officeID)
	}
}

func (o *officeRegistry) get(officeID, userID string) (*entry, bool) {
	e, ok := o.offices[officeID][userID]
	return e, ok
}

func (o *officeRegistry) setCurrentRoom(officeID, userID, roomID string) bool {
	e, ok := o.get(officeID, userID)
	if !ok {
		return false
	}
	e.participant.CurrentRoom = roomID
	return true
}

// groupedByRoom partitions the office on each member's CurrentRoom.
func (o *officeRegistry) groupedByRoom(officeID string) map[string][]Participant {
	ps := lo.MapToSlice(o.offices[officeID], func(_ string, e *entry) Participant {
		return e.participant
	})
	grouped := lo.GroupBy(ps, func(p Participant) string {
		if p.CurrentRoom == "" {
			return "unknown"
		}
		return p.CurrentRoom
	})
	for _, group := range grouped {
		SortParticipants(group)
	}
	return grouped
}

func (o *officeRegistry) entries(officeID string) []entry {
	members := o.offices[officeID]
	out := make([]entry, 0, len(members))
	for _, e := range members {
		out = append(out, *e)
	}
	return out
}
