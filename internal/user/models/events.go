package models

// Event manifests identify the persisted event variant.
const (
	ManifestUserRegistered = "UserRegistered"
	ManifestUserUpdated    = "UserUpdated"
)

// Event is a persisted fact about a user. The concrete types are
// UserRegistered and UserUpdated.
type Event interface {
	Manifest() string
	// ReadModel returns the full row this event leaves behind.
	ReadModel() Record
}

type UserRegistered struct {
	Username  Username `json:"username"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     Email    `json:"email"`
}

type UserUpdated struct {
	Username  Username `json:"username"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     Email    `json:"email"`
}

func (UserRegistered) Manifest() string { return ManifestUserRegistered }
func (UserUpdated) Manifest() string    { return ManifestUserUpdated }

func (e UserRegistered) ReadModel() Record {
	return Record{Username: e.Username, FirstName: e.FirstName, LastName: e.LastName, Email: e.Email}
}

func (e UserUpdated) ReadModel() Record {
	return Record{Username: e.Username, FirstName: e.FirstName, LastName: e.LastName, Email: e.Email}
}
