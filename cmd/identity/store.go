package identity

import (
	"context"
	"time"

	"commune/cmd/identity/ids"
)

// User is the public view of a registered account.
type User struct {
	ID        ids.ID
	Name      string
	Email     string
	EmailNorm string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserAuth pairs a user with the stored password hash. Never serialize it.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput describes a registration request.
type CreateUserInput struct {
	Name     string
	Email    string
	Password string
	Now      time.Time
}

// Store is the user persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id ids.ID) (User, error)
	GetUserAuthByEmail(ctx context.Context, email string) (UserAuth, error)
}
