package events

import (
	"time"

	"github.com/dshills/fedihook/internal/event/topic"
)

// User event keys.
var (
	// UserBeforeRegister is emitted before an account is created.
	// Handlers may rewrite the registration or refuse it.
	UserBeforeRegister = topic.NewBefore[Registration]("user:beforeRegister", "an account is about to be created")

	// UserAfterRegister is emitted once an account exists.
	UserAfterRegister = topic.NewAfter[User]("user:afterRegister", "an account was created")
)

// Registration is the payload of user:beforeRegister.
type Registration struct {
	// Username is the requested handle.
	Username string `json:"username"`

	// Email is the contact address.
	Email string `json:"email"`

	// InviteCode is the optional invite used to register.
	InviteCode string `json:"inviteCode,omitempty"`
}

// User is the payload of user:afterRegister.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}
