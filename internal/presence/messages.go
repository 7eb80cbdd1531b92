package presence

const (
	TypeUserJoined       = "user_joined"
	TypeUserLeft         = "user_left"
	TypeUserMovedRoom    = "user_moved_room"
	TypeParticipantsList = "participants_list"
)

type UserJoined struct {
	Type              string      `json:"type"`
	User              Participant `json:"user"`
	ParticipantsCount int         `json:"participants_count"`
}

type UserLeft struct {
	Type              string `json:"type"`
	UserID            string `json:"user_id"`
	ParticipantsCount int    `json:"participants_count"`
}

type UserMovedRoom struct {
	Type               string                   `json:"type"`
	UserID             string                   `json:"user_id"`
	FromRoom           string                   `json:"from_room"`
	ToRoom             string                   `json:"to_room"`
	OfficeParticipants map[string][]Participant `json:"office_participants"`
}

// ParticipantsList is the roster snapshot the transport sends to a joiner.
type ParticipantsList struct {
	Type         string        `json:"type"`
	Participants []Participant `json:"participants"`
}

func NewParticipantsList(ps []Participant) ParticipantsList {
	return ParticipantsList{Type: TypeParticipantsList, Participants: ps}
}
