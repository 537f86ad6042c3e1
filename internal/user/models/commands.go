package models

// Command is a request to a user aggregate. The concrete types are Register
// and Update.
type Command interface {
	CommandName() string
}

// Register creates a user.
type Register struct {
	Username  Username
	FirstName string
	LastName  string
	Email     Email
}

// Update replaces a registered user's profile. Username addresses the
// aggregate; it cannot rename the user.
type Update struct {
	Username  Username
	FirstName string
	LastName  string
	Email     Email
}

func (Register) CommandName() string { return "Register" }
func (Update) CommandName() string   { return "Update" }
