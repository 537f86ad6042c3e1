package models

// Username identifies a user and is the aggregate's entity id. It never changes
// once registered.
type Username string

func (u Username) String() string { return string(u) }

// Email is a user's contact address.
type Email string

func (e Email) String() string { return string(e) }

// Status is the lifecycle stage of a user aggregate.
type Status int

const (
	StatusUnregistered Status = iota
	StatusActive
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	default:
		return "unregistered"
	}
}

// State is the folded state of one user aggregate.
type State struct {
	Status    Status   `cbor:"1,keyasint"`
	Username  Username `cbor:"2,keyasint,omitempty"`
	FirstName string   `cbor:"3,keyasint,omitempty"`
	LastName  string   `cbor:"4,keyasint,omitempty"`
	Email     Email    `cbor:"5,keyasint,omitempty"`
}

// Unregistered is the state before any event.
func Unregistered() State {
	return State{Status: StatusUnregistered}
}

func (s State) IsActive() bool {
	return s.Status == StatusActive
}

// Record is the denormalized read-model row for one user.
type Record struct {
	Username  Username `json:"username"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     Email    `json:"email"`
}
